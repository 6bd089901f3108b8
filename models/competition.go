package models

import (
	"encoding/json"
	"time"
)

// CompetitionStatus mirrors the competition_status ENUM in the database.
type CompetitionStatus string

const (
	CompetitionUpcoming  CompetitionStatus = "upcoming"
	CompetitionActive    CompetitionStatus = "active"
	CompetitionCompleted CompetitionStatus = "completed"
)

type CompetitionVisibility string

const (
	VisibilityPublic  CompetitionVisibility = "public"
	VisibilityPrivate CompetitionVisibility = "private"
)

// ScoringPolicy controls how the scorer treats imperfect prediction files.
type ScoringPolicy struct {
	MissingRows      string   `json:"missing_rows" yaml:"missing_rows"`                       // "penalize" or "reject"
	MissingPenalty   *float64 `json:"missing_penalty,omitempty" yaml:"missing_penalty"`       // per-row error used by "penalize"
	MaxMalformedRate *float64 `json:"max_malformed_rate,omitempty" yaml:"max_malformed_rate"` // nil keeps the default
	DuplicateKeys    string   `json:"duplicate_keys" yaml:"duplicate_keys"`                   // "last_write_wins" or "reject"
}

type Competition struct {
	ID                   int                   `json:"id" db:"id"`
	Slug                 string                `json:"slug" db:"slug"`
	Title                string                `json:"title" db:"title"`
	Description          *string               `json:"description,omitempty" db:"description"`
	MetricType           string                `json:"metric_type" db:"metric_type"`
	KeyColumn            string                `json:"key_column" db:"key_column"`
	TargetColumn         string                `json:"target_column" db:"target_column"`
	StartAt              time.Time             `json:"start_at" db:"start_at"`
	EndAt                time.Time             `json:"end_at" db:"end_at"`
	Visibility           CompetitionVisibility `json:"visibility" db:"visibility"`
	Status               CompetitionStatus     `json:"status" db:"status"`
	DailySubmissionLimit int                   `json:"daily_submission_limit" db:"daily_submission_limit"`
	QuotaResetHour       int                   `json:"quota_reset_hour" db:"quota_reset_hour"`
	MaxFileSizeBytes     int64                 `json:"max_file_size_bytes" db:"max_file_size_bytes"`
	AllowedExtensions    []string              `json:"allowed_extensions" db:"allowed_extensions"`
	ScoringPolicyJSON    *string               `json:"-" db:"scoring_policy"`
	GroundTruthKey       *string               `json:"-" db:"ground_truth_key"`
	OrganizerID          int                   `json:"organizer_id" db:"organizer_id"`
	CreatedAt            time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at" db:"updated_at"`

	// Populated by the service layer.
	ScoringPolicy  *ScoringPolicy `json:"scoring_policy,omitempty" db:"-"`
	HasGroundTruth bool           `json:"has_ground_truth" db:"-"`
}

// GetScoringPolicy decodes the stored policy. A nil policy means "use defaults".
func (c *Competition) GetScoringPolicy() (*ScoringPolicy, error) {
	if c.ScoringPolicyJSON == nil || *c.ScoringPolicyJSON == "" {
		return nil, nil
	}
	var policy ScoringPolicy
	if err := json.Unmarshal([]byte(*c.ScoringPolicyJSON), &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// AcceptsSubmissions reports whether uploads are open at the given instant.
func (c *Competition) AcceptsSubmissions(now time.Time) bool {
	if c.Status != CompetitionActive {
		return false
	}
	return !now.Before(c.StartAt) && now.Before(c.EndAt)
}

func (c *Competition) IsClosed() bool {
	return c.Status == CompetitionCompleted
}
