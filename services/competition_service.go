package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/repositories"
	"github.com/Dosada05/palanteer/scoring"
	"github.com/Dosada05/palanteer/storage"
)

type CompetitionService interface {
	CreateCompetition(ctx context.Context, actor Actor, input CreateCompetitionInput) (*models.Competition, error)
	GetCompetition(ctx context.Context, id int) (*models.Competition, error)
	ListCompetitions(ctx context.Context, actor *Actor, input ListCompetitionsInput) ([]models.Competition, error)
	UpdateCompetition(ctx context.Context, actor Actor, id int, input UpdateCompetitionInput) (*models.Competition, error)
	UpdateStatus(ctx context.Context, actor Actor, id int, status models.CompetitionStatus) (*models.Competition, error)
	UploadGroundTruth(ctx context.Context, actor Actor, id int, input GroundTruthInput) (*models.Competition, error)
	RebuildLeaderboard(ctx context.Context, actor Actor, id int) (int, error)
	AutoUpdateStatuses(ctx context.Context) error
}

// Actor is the authenticated caller of an administrative operation.
type Actor struct {
	UserID int
	Role   models.UserRole
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

type CreateCompetitionInput struct {
	Slug                 string                 `json:"slug" validate:"required,slug,max=100"`
	Title                string                 `json:"title" validate:"required,max=200"`
	Description          *string                `json:"description"`
	MetricType           string                 `json:"metric_type" validate:"required,metric"`
	KeyColumn            string                 `json:"key_column" validate:"required,max=100"`
	TargetColumn         string                 `json:"target_column" validate:"required,max=100"`
	StartAt              time.Time              `json:"start_at" validate:"required"`
	EndAt                time.Time              `json:"end_at" validate:"required,gtfield=StartAt"`
	Visibility           string                 `json:"visibility" validate:"omitempty,oneof=public private"`
	DailySubmissionLimit int                    `json:"daily_submission_limit" validate:"gte=0"`
	QuotaResetHour       int                    `json:"quota_reset_hour" validate:"gte=0,lte=23"`
	MaxFileSizeBytes     int64                  `json:"max_file_size_bytes" validate:"gte=0"`
	AllowedExtensions    []string               `json:"allowed_extensions" validate:"omitempty,dive,oneof=.csv .xlsx"`
	ScoringPolicy        *models.ScoringPolicy  `json:"scoring_policy"`
}

// UpdateCompetitionInput holds optional changes. Once a competition is active only the
// title, description, end date, visibility and limits may change.
type UpdateCompetitionInput struct {
	Title                *string               `json:"title" validate:"omitempty,min=1,max=200"`
	Description          *string               `json:"description"`
	MetricType           *string               `json:"metric_type" validate:"omitempty,metric"`
	KeyColumn            *string               `json:"key_column" validate:"omitempty,min=1,max=100"`
	TargetColumn         *string               `json:"target_column" validate:"omitempty,min=1,max=100"`
	StartAt              *time.Time            `json:"start_at"`
	EndAt                *time.Time            `json:"end_at"`
	Visibility           *string               `json:"visibility" validate:"omitempty,oneof=public private"`
	DailySubmissionLimit *int                  `json:"daily_submission_limit" validate:"omitempty,gte=0"`
	QuotaResetHour       *int                  `json:"quota_reset_hour" validate:"omitempty,gte=0,lte=23"`
	MaxFileSizeBytes     *int64                `json:"max_file_size_bytes" validate:"omitempty,gte=0"`
	AllowedExtensions    []string              `json:"allowed_extensions" validate:"omitempty,dive,oneof=.csv .xlsx"`
	ScoringPolicy        *models.ScoringPolicy `json:"scoring_policy"`
}

type ListCompetitionsInput struct {
	Status     *models.CompetitionStatus
	Visibility *models.CompetitionVisibility
	Limit      int
	Offset     int
}

type GroundTruthInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CompetitionCloser aborts scoring work of a competition that just closed.
type CompetitionCloser interface {
	CancelCompetition(ctx context.Context, competitionID int) error
}

type competitionService struct {
	competitions repositories.CompetitionRepository
	engine       *RankingEngine
	closer       CompetitionCloser
	store        storage.FileStore
	validator    *SubmissionValidator
	policies     ScoringPolicies
	inputs       *validator.Validate
	logger       *slog.Logger
	now          func() time.Time
}

func NewCompetitionService(
	competitions repositories.CompetitionRepository,
	engine *RankingEngine,
	closer CompetitionCloser,
	store storage.FileStore,
	files *SubmissionValidator,
	policies ScoringPolicies,
	logger *slog.Logger,
) CompetitionService {
	if policies == nil {
		policies = staticPolicies(scoring.DefaultPolicy())
	}
	return &competitionService{
		competitions: competitions,
		engine:       engine,
		closer:       closer,
		store:        store,
		validator:    files,
		policies:     policies,
		inputs:       newInputValidator(),
		logger:       logger,
		now:          time.Now,
	}
}

func canManage(actor Actor, c *models.Competition) bool {
	return actor.IsAdmin() || (actor.Role == models.RoleOrganizer && c.OrganizerID == actor.UserID)
}

func encodePolicy(p *models.ScoringPolicy, defaults ScoringPolicies, metric string) (*string, error) {
	if p == nil {
		return nil, nil
	}
	if _, err := scoring.PolicyFrom(defaults.DefaultsFor(metric), p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScoringPolicy, err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scoring policy: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func (s *competitionService) decorate(c *models.Competition) *models.Competition {
	if policy, err := c.GetScoringPolicy(); err == nil {
		c.ScoringPolicy = policy
	}
	c.HasGroundTruth = c.GroundTruthKey != nil && *c.GroundTruthKey != ""
	return c
}

func (s *competitionService) CreateCompetition(ctx context.Context, actor Actor, input CreateCompetitionInput) (*models.Competition, error) {
	if actor.Role != models.RoleOrganizer && !actor.IsAdmin() {
		return nil, ErrForbiddenOperation
	}
	input.Slug = strings.TrimSpace(input.Slug)
	input.Title = strings.TrimSpace(input.Title)
	if err := validateInput(s.inputs, input); err != nil {
		return nil, err
	}

	policyJSON, err := encodePolicy(input.ScoringPolicy, s.policies, input.MetricType)
	if err != nil {
		return nil, err
	}

	c := &models.Competition{
		Slug:                 input.Slug,
		Title:                input.Title,
		Description:          input.Description,
		MetricType:           strings.ToLower(input.MetricType),
		KeyColumn:            strings.TrimSpace(input.KeyColumn),
		TargetColumn:         strings.TrimSpace(input.TargetColumn),
		StartAt:              input.StartAt.UTC(),
		EndAt:                input.EndAt.UTC(),
		Visibility:           models.VisibilityPublic,
		Status:               models.CompetitionUpcoming,
		DailySubmissionLimit: input.DailySubmissionLimit,
		QuotaResetHour:       input.QuotaResetHour,
		MaxFileSizeBytes:     input.MaxFileSizeBytes,
		AllowedExtensions:    normalizeExtensions(input.AllowedExtensions),
		ScoringPolicyJSON:    policyJSON,
		OrganizerID:          actor.UserID,
	}
	if input.Visibility != "" {
		c.Visibility = models.CompetitionVisibility(input.Visibility)
	}

	if err := s.competitions.Create(ctx, c); err != nil {
		switch {
		case errors.Is(err, repositories.ErrCompetitionSlugConflict):
			return nil, ErrCompetitionSlugConflict
		case errors.Is(err, repositories.ErrCompetitionInvalidOrg):
			return nil, ErrForbiddenOperation
		}
		return nil, fmt.Errorf("failed to create competition: %w", err)
	}
	s.logger.InfoContext(ctx, "Competition created", slog.Int("competition_id", c.ID), slog.String("slug", c.Slug))
	return s.decorate(c), nil
}

func normalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		return append([]string(nil), defaultAllowedExtensions...)
	}
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

func (s *competitionService) GetCompetition(ctx context.Context, id int) (*models.Competition, error) {
	c, err := s.competitions.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrCompetitionNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, fmt.Errorf("failed to get competition %d: %w", id, err)
	}
	return s.decorate(c), nil
}

// ListCompetitions hides private competitions from everyone but admins and their organizers.
func (s *competitionService) ListCompetitions(ctx context.Context, actor *Actor, input ListCompetitionsInput) ([]models.Competition, error) {
	filter := repositories.ListCompetitionsFilter{
		Status:     input.Status,
		Visibility: input.Visibility,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}

	private := models.VisibilityPrivate
	public := models.VisibilityPublic
	switch {
	case actor != nil && actor.IsAdmin():
	case actor != nil && actor.Role == models.RoleOrganizer && filter.Visibility != nil && *filter.Visibility == private:
		filter.OrganizerID = &actor.UserID
	default:
		filter.Visibility = &public
	}

	list, err := s.competitions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	for i := range list {
		s.decorate(&list[i])
	}
	return list, nil
}

func (s *competitionService) loadManaged(ctx context.Context, actor Actor, id int) (*models.Competition, error) {
	c, err := s.GetCompetition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, c) {
		return nil, ErrForbiddenOperation
	}
	return c, nil
}

func (s *competitionService) UpdateCompetition(ctx context.Context, actor Actor, id int, input UpdateCompetitionInput) (*models.Competition, error) {
	if err := validateInput(s.inputs, input); err != nil {
		return nil, err
	}
	c, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if c.IsClosed() {
		return nil, ErrCompetitionArchived
	}

	started := c.Status != models.CompetitionUpcoming
	scoringChange := input.MetricType != nil || input.KeyColumn != nil || input.TargetColumn != nil ||
		input.StartAt != nil || input.AllowedExtensions != nil || input.ScoringPolicy != nil
	if started && scoringChange {
		return nil, ErrCompetitionLocked
	}

	if input.Title != nil {
		c.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		c.Description = input.Description
	}
	if input.MetricType != nil {
		c.MetricType = strings.ToLower(*input.MetricType)
	}
	if input.KeyColumn != nil {
		c.KeyColumn = strings.TrimSpace(*input.KeyColumn)
	}
	if input.TargetColumn != nil {
		c.TargetColumn = strings.TrimSpace(*input.TargetColumn)
	}
	if input.StartAt != nil {
		c.StartAt = input.StartAt.UTC()
	}
	if input.EndAt != nil {
		c.EndAt = input.EndAt.UTC()
	}
	if input.Visibility != nil {
		c.Visibility = models.CompetitionVisibility(*input.Visibility)
	}
	if input.DailySubmissionLimit != nil {
		c.DailySubmissionLimit = *input.DailySubmissionLimit
	}
	if input.QuotaResetHour != nil {
		c.QuotaResetHour = *input.QuotaResetHour
	}
	if input.MaxFileSizeBytes != nil {
		c.MaxFileSizeBytes = *input.MaxFileSizeBytes
	}
	if input.AllowedExtensions != nil {
		c.AllowedExtensions = normalizeExtensions(input.AllowedExtensions)
	}
	if input.ScoringPolicy != nil {
		policyJSON, err := encodePolicy(input.ScoringPolicy, s.policies, c.MetricType)
		if err != nil {
			return nil, err
		}
		c.ScoringPolicyJSON = policyJSON
	}
	if !c.EndAt.After(c.StartAt) {
		return nil, ErrCompetitionInvalidDateRange
	}

	if err := s.competitions.Update(ctx, c); err != nil {
		if errors.Is(err, repositories.ErrCompetitionNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, fmt.Errorf("failed to update competition %d: %w", id, err)
	}
	return s.decorate(c), nil
}

var allowedTransitions = map[models.CompetitionStatus][]models.CompetitionStatus{
	models.CompetitionUpcoming: {models.CompetitionActive, models.CompetitionCompleted},
	models.CompetitionActive:   {models.CompetitionCompleted},
}

func canTransition(from, to models.CompetitionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s *competitionService) UpdateStatus(ctx context.Context, actor Actor, id int, status models.CompetitionStatus) (*models.Competition, error) {
	switch status {
	case models.CompetitionUpcoming, models.CompetitionActive, models.CompetitionCompleted:
	default:
		return nil, ErrCompetitionInvalidStatus
	}
	c, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, status); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *competitionService) transition(ctx context.Context, c *models.Competition, status models.CompetitionStatus) error {
	if c.Status == status {
		return nil
	}
	if !canTransition(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrCompetitionInvalidStatusTransition, c.Status, status)
	}
	if err := s.competitions.UpdateStatus(ctx, nil, c.ID, status); err != nil {
		if errors.Is(err, repositories.ErrCompetitionNotFound) {
			return ErrCompetitionNotFound
		}
		return fmt.Errorf("failed to update status of competition %d: %w", c.ID, err)
	}
	previous := c.Status
	c.Status = status
	s.logger.InfoContext(ctx, "Competition status changed",
		slog.Int("competition_id", c.ID),
		slog.String("from", string(previous)),
		slog.String("to", string(status)))

	if status == models.CompetitionCompleted && s.closer != nil {
		if err := s.closer.CancelCompetition(ctx, c.ID); err != nil {
			s.logger.ErrorContext(ctx, "Failed to cancel scoring of closed competition",
				slog.Int("competition_id", c.ID), slog.Any("error", err))
		}
	}
	return nil
}

// UploadGroundTruth stores a new ground truth file after checking that it scores against
// itself with the competition's metric. The previous file is removed afterwards.
func (s *competitionService) UploadGroundTruth(ctx context.Context, actor Actor, id int, input GroundTruthInput) (*models.Competition, error) {
	c, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if c.IsClosed() {
		return nil, ErrCompetitionArchived
	}
	if c.Status == models.CompetitionActive && !actor.IsAdmin() {
		return nil, ErrCompetitionLocked
	}

	policy := FormatPolicy{AllowedExtensions: defaultAllowedExtensions}
	header := FileHeader{Name: input.FileName, Size: input.Size, ContentType: input.ContentType}
	if err := s.validator.Validate(header, policy); err != nil {
		return nil, err
	}
	reader := input.Body
	if limit := s.validator.MaxBytes(policy); limit > 0 {
		reader = io.LimitReader(input.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read upload: %v", ErrValidationFailed, err)
	}
	header.Size = int64(len(data))
	if err := s.validator.Validate(header, policy); err != nil {
		return nil, err
	}

	metric, err := scoring.LookupMetric(c.MetricType)
	if err != nil {
		return nil, ErrInvalidMetric
	}
	src := scoring.Source{Name: input.FileName, Data: data}
	spec := scoring.Spec{Metric: metric, KeyColumn: c.KeyColumn, TargetColumn: c.TargetColumn, Policy: scoring.DefaultPolicy()}
	if _, err := scoring.Score(ctx, src, src, spec); err != nil {
		var scoringErr *scoring.Error
		if errors.As(err, &scoringErr) {
			return nil, fmt.Errorf("%w: %s", ErrGroundTruthInvalid, scoringErr.Message)
		}
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(input.FileName))
	key := fmt.Sprintf("ground-truth/%d/%s%s", c.ID, uuid.NewString(), ext)
	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.store.Upload(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return nil, systemError("store ground truth", err)
	}
	if err := s.competitions.UpdateGroundTruthKey(ctx, c.ID, &key); err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.ErrorContext(ctx, "Failed to remove orphaned ground truth", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("failed to record ground truth key: %w", err)
	}

	if previous := c.GroundTruthKey; previous != nil && *previous != "" {
		if err := s.store.Delete(ctx, *previous); err != nil {
			s.logger.WarnContext(ctx, "Failed to delete previous ground truth", slog.String("key", *previous), slog.Any("error", err))
		}
	}
	c.GroundTruthKey = &key
	s.logger.InfoContext(ctx, "Ground truth uploaded", slog.Int("competition_id", c.ID), slog.Int64("size", header.Size))
	return s.decorate(c), nil
}

func (s *competitionService) RebuildLeaderboard(ctx context.Context, actor Actor, id int) (int, error) {
	if !actor.IsAdmin() {
		return 0, ErrForbiddenOperation
	}
	return s.engine.Rebuild(ctx, id)
}

// AutoUpdateStatuses activates competitions whose start has passed and completes those
// whose end has passed. Completion goes through the same closure path as a manual close.
func (s *competitionService) AutoUpdateStatuses(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.competitions.ListForAutoStatusUpdate(ctx, nil, now)
	if err != nil {
		return fmt.Errorf("failed to list competitions for auto status update: %w", err)
	}

	var errs []error
	for _, c := range due {
		target := models.CompetitionActive
		if !c.EndAt.After(now) {
			target = models.CompetitionCompleted
		}
		if err := s.transition(ctx, c, target); err != nil {
			errs = append(errs, fmt.Errorf("competition %d: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}
