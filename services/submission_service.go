package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/Dosada05/palanteer/metrics"
	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/repositories"
	"github.com/Dosada05/palanteer/storage"
)

type SubmissionService interface {
	SubmitPrediction(ctx context.Context, input SubmitPredictionInput) (*models.Submission, error)
	GetSubmission(ctx context.Context, submissionID, viewerID int, viewerRole models.UserRole) (*models.Submission, error)
	ListMySubmissions(ctx context.Context, competitionID, participantID, limit, offset int) ([]*models.Submission, error)
	CanSubmit(ctx context.Context, participantID, competitionID int) (*QuotaStatus, error)
	DeleteSubmission(ctx context.Context, submissionID int) error
}

type SubmitPredictionInput struct {
	CompetitionID int
	ParticipantID int
	FileName      string
	ContentType   string
	Size          int64
	Description   *string
	Body          io.Reader
}

// JobQueue accepts scoring jobs without blocking.
type JobQueue interface {
	Enqueue(job ScoringJob) bool
}

type submissionService struct {
	tx           repositories.Transactor
	competitions repositories.CompetitionRepository
	submissions  repositories.SubmissionRepository
	participants repositories.ParticipantRepository
	validator    *SubmissionValidator
	quota        *QuotaGuard
	engine       *RankingEngine
	store        storage.FileStore
	queue        JobQueue
	logger       *slog.Logger
	now          func() time.Time
}

func NewSubmissionService(
	tx repositories.Transactor,
	competitions repositories.CompetitionRepository,
	submissions repositories.SubmissionRepository,
	participants repositories.ParticipantRepository,
	validator *SubmissionValidator,
	quota *QuotaGuard,
	engine *RankingEngine,
	store storage.FileStore,
	queue JobQueue,
	logger *slog.Logger,
) SubmissionService {
	return &submissionService{
		tx:           tx,
		competitions: competitions,
		submissions:  submissions,
		participants: participants,
		validator:    validator,
		quota:        quota,
		engine:       engine,
		store:        store,
		queue:        queue,
		logger:       logger,
		now:          time.Now,
	}
}

// SubmitPrediction validates, stores and records a prediction file, then queues it for
// scoring. Rejections happen before anything is stored; a failed insert removes the
// stored file again.
func (s *submissionService) SubmitPrediction(ctx context.Context, in SubmitPredictionInput) (*models.Submission, error) {
	sub, err := s.submit(ctx, in)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	return sub, nil
}

func (s *submissionService) submit(ctx context.Context, in SubmitPredictionInput) (*models.Submission, error) {
	competition, err := s.competitions.GetByID(ctx, nil, in.CompetitionID)
	if err != nil {
		if errors.Is(err, repositories.ErrCompetitionNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, systemError("load competition", err)
	}
	if !competition.AcceptsSubmissions(s.now()) {
		return nil, ErrCompetitionNotActive
	}
	if s.participants != nil {
		if _, err := s.participants.GetByID(ctx, in.ParticipantID); err != nil {
			if errors.Is(err, repositories.ErrParticipantNotFound) {
				return nil, ErrParticipantNotFound
			}
			return nil, systemError("load participant", err)
		}
	}

	policy := s.validator.PolicyFor(competition)
	header := FileHeader{Name: in.FileName, Size: in.Size, ContentType: in.ContentType}
	if err := s.validator.Validate(header, policy); err != nil {
		return nil, err
	}

	status, err := s.quota.Status(ctx, nil, competition, in.ParticipantID)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, ErrQuotaExceeded
	}

	// The declared size cannot be trusted; read at most one byte past the limit.
	limit := s.validator.MaxBytes(policy)
	reader := in.Body
	if limit > 0 {
		reader = io.LimitReader(in.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read upload: %v", ErrValidationFailed, err)
	}
	header.Size = int64(len(data))
	if err := s.validator.Validate(header, policy); err != nil {
		return nil, err
	}

	digest := blake2b.Sum256(data)
	ext := strings.ToLower(filepath.Ext(in.FileName))
	key := fmt.Sprintf("submissions/%d/%d/%s%s", competition.ID, in.ParticipantID, uuid.NewString(), ext)
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.store.Upload(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return nil, systemError("store submission file", err)
	}

	sub := &models.Submission{
		CompetitionID: competition.ID,
		ParticipantID: in.ParticipantID,
		FileKey:       key,
		FileName:      filepath.Base(in.FileName),
		FileSize:      header.Size,
		ContentDigest: hex.EncodeToString(digest[:]),
		Description:   in.Description,
		Status:        models.SubmissionPending,
		SubmittedAt:   s.now().UTC(),
	}

	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := repositories.LockParticipantQuota(ctx, exec, competition.ID, in.ParticipantID); err != nil {
			return err
		}
		status, err := s.quota.Status(ctx, exec, competition, in.ParticipantID)
		if err != nil {
			return err
		}
		if !status.Allowed {
			return ErrQuotaExceeded
		}
		return s.submissions.Create(ctx, exec, sub)
	})
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Error("Failed to remove stored file after rejected insert",
				slog.String("key", key), slog.Any("error", delErr))
		}
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			return nil, ErrQuotaExceeded
		case errors.Is(err, repositories.ErrSubmissionInvalidRefs):
			return nil, ErrParticipantNotFound
		}
		return nil, systemError("record submission", err)
	}

	s.logger.InfoContext(ctx, "Submission accepted",
		slog.Int("submission_id", sub.ID),
		slog.Int("competition_id", sub.CompetitionID),
		slog.Int("participant_id", sub.ParticipantID),
		slog.Int64("size", sub.FileSize))

	if s.queue != nil && !s.queue.Enqueue(ScoringJob{SubmissionID: sub.ID, CompetitionID: sub.CompetitionID}) {
		s.logger.WarnContext(ctx, "Submission left pending for the sweeper", slog.Int("submission_id", sub.ID))
	}
	return sub, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return "file_too_large"
	case errors.Is(err, ErrEmptyFile):
		return "empty_file"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrCompetitionNotActive):
		return "competition_not_active"
	case IsSystemError(err):
		return "system_error"
	default:
		return "rejected"
	}
}

// GetSubmission is visible to its owner and to admins.
func (s *submissionService) GetSubmission(ctx context.Context, submissionID, viewerID int, viewerRole models.UserRole) (*models.Submission, error) {
	sub, err := s.submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSubmissionNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission %d: %w", submissionID, err)
	}
	if sub.ParticipantID != viewerID && viewerRole != models.RoleAdmin {
		return nil, ErrForbiddenOperation
	}
	return sub, nil
}

func (s *submissionService) ListMySubmissions(ctx context.Context, competitionID, participantID, limit, offset int) ([]*models.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	subs, err := s.submissions.ListByParticipant(ctx, competitionID, participantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

func (s *submissionService) CanSubmit(ctx context.Context, participantID, competitionID int) (*QuotaStatus, error) {
	competition, err := s.competitions.GetByID(ctx, nil, competitionID)
	if err != nil {
		if errors.Is(err, repositories.ErrCompetitionNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, systemError("load competition", err)
	}
	status, err := s.quota.Status(ctx, nil, competition, participantID)
	if err != nil {
		return nil, err
	}
	if !competition.AcceptsSubmissions(s.now()) {
		status.Allowed = false
	}
	return status, nil
}

// DeleteSubmission removes a submission for moderation and rebuilds the affected entry.
func (s *submissionService) DeleteSubmission(ctx context.Context, submissionID int) error {
	sub, err := s.engine.RemoveSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sub.FileKey); err != nil {
		s.logger.WarnContext(ctx, "Failed to delete stored submission file",
			slog.Int("submission_id", sub.ID), slog.String("key", sub.FileKey), slog.Any("error", err))
	}
	s.logger.InfoContext(ctx, "Submission removed by moderation",
		slog.Int("submission_id", sub.ID), slog.Int("competition_id", sub.CompetitionID))
	return nil
}
