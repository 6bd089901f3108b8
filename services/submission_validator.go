package services

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/Dosada05/palanteer/models"
)

// FileHeader describes an upload before its body is read.
type FileHeader struct {
	Name        string
	Size        int64
	ContentType string
}

// FormatPolicy is the per-competition part of upload validation.
type FormatPolicy struct {
	MaxSizeBytes      int64
	AllowedExtensions []string
}

var defaultAllowedExtensions = []string{".csv", ".xlsx"}

// contentTypesByExtension lists declared content types accepted for each extension.
// Browsers and HTTP clients disagree on CSV, so the list is generous.
var contentTypesByExtension = map[string][]string{
	".csv": {
		"text/csv", "application/csv", "text/plain", "text/x-csv",
		"application/vnd.ms-excel", "application/octet-stream",
	},
	".xlsx": {
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/zip", "application/octet-stream",
	},
}

// SubmissionValidator enforces size and format rules. It has no side effects.
type SubmissionValidator struct {
	globalMaxBytes int64
}

func NewSubmissionValidator(globalMaxBytes int64) *SubmissionValidator {
	return &SubmissionValidator{globalMaxBytes: globalMaxBytes}
}

// PolicyFor derives the format policy of a competition, falling back to defaults.
func (v *SubmissionValidator) PolicyFor(c *models.Competition) FormatPolicy {
	p := FormatPolicy{MaxSizeBytes: c.MaxFileSizeBytes, AllowedExtensions: c.AllowedExtensions}
	if len(p.AllowedExtensions) == 0 {
		p.AllowedExtensions = defaultAllowedExtensions
	}
	return p
}

// MaxBytes is the effective size ceiling: the smaller of the global and competition limits.
func (v *SubmissionValidator) MaxBytes(policy FormatPolicy) int64 {
	limit := v.globalMaxBytes
	if policy.MaxSizeBytes > 0 && (limit <= 0 || policy.MaxSizeBytes < limit) {
		limit = policy.MaxSizeBytes
	}
	return limit
}

func (v *SubmissionValidator) Validate(file FileHeader, policy FormatPolicy) error {
	if limit := v.MaxBytes(policy); limit > 0 && file.Size > limit {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, file.Size, limit)
	}
	if file.Size == 0 {
		return ErrEmptyFile
	}

	ext := strings.ToLower(filepath.Ext(file.Name))
	if ext == "" || !containsFold(policy.AllowedExtensions, ext) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedFormat, ext, strings.Join(policy.AllowedExtensions, ", "))
	}

	if file.ContentType != "" {
		mediaType, _, err := mime.ParseMediaType(file.ContentType)
		if err != nil {
			return fmt.Errorf("%w: malformed content type %q", ErrUnsupportedFormat, file.ContentType)
		}
		if accepted, known := contentTypesByExtension[ext]; known && !containsFold(accepted, mediaType) {
			return fmt.Errorf("%w: content type %s does not match %s", ErrUnsupportedFormat, mediaType, ext)
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}
