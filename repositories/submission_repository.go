package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/palanteer/models"
)

var (
	ErrSubmissionNotFound    = errors.New("submission not found")
	ErrSubmissionNotPending  = errors.New("submission already left pending state")
	ErrSubmissionInvalidRefs = errors.New("submission references a missing competition or participant")
)

type SubmissionRepository interface {
	Create(ctx context.Context, exec SQLExecutor, submission *models.Submission) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Submission, error)
	CountSince(ctx context.Context, exec SQLExecutor, competitionID, participantID int, since time.Time) (int, error)
	ListByParticipant(ctx context.Context, competitionID, participantID, limit, offset int) ([]*models.Submission, error)
	MarkScored(ctx context.Context, exec SQLExecutor, id int, score float64, scoredAt time.Time) error
	MarkError(ctx context.Context, exec SQLExecutor, id int, reason models.SubmissionErrorReason, message string, at time.Time) error
	FailPendingByCompetition(ctx context.Context, exec SQLExecutor, competitionID int, reason models.SubmissionErrorReason, message string, at time.Time) (int64, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Submission, error)
	ListScored(ctx context.Context, exec SQLExecutor, competitionID int, participantID *int) ([]*models.Submission, error)
	LatestScored(ctx context.Context, exec SQLExecutor, competitionID, participantID int) (*models.Submission, error)
	Delete(ctx context.Context, exec SQLExecutor, id int) error
}

type postgresSubmissionRepository struct {
	db *sql.DB
}

func NewPostgresSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &postgresSubmissionRepository{db: db}
}

func (r *postgresSubmissionRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const submissionColumns = `
	id, competition_id, participant_id, file_key, file_name, file_size, content_digest,
	description, score, status, error_reason, error_message, submitted_at, scored_at`

func (r *postgresSubmissionRepository) scanSubmission(rowScanner interface{ Scan(...interface{}) error }) (*models.Submission, error) {
	var s models.Submission
	err := rowScanner.Scan(
		&s.ID, &s.CompetitionID, &s.ParticipantID, &s.FileKey, &s.FileName, &s.FileSize, &s.ContentDigest,
		&s.Description, &s.Score, &s.Status, &s.ErrorReason, &s.ErrorMessage, &s.SubmittedAt, &s.ScoredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *postgresSubmissionRepository) scanSubmissions(rows *sql.Rows) ([]*models.Submission, error) {
	defer rows.Close()
	submissions := make([]*models.Submission, 0)
	for rows.Next() {
		s, err := r.scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *postgresSubmissionRepository) Create(ctx context.Context, exec SQLExecutor, s *models.Submission) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO submissions
			(competition_id, participant_id, file_key, file_name, file_size, content_digest, description, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = models.SubmissionPending
	}
	err := executor.QueryRowContext(ctx, query,
		s.CompetitionID, s.ParticipantID, s.FileKey, s.FileName, s.FileSize, s.ContentDigest,
		s.Description, s.Status, s.SubmittedAt,
	).Scan(&s.ID)
	if _, ok := pqConstraint(err, codeForeignKeyViolation); ok {
		return ErrSubmissionInvalidRefs
	}
	return err
}

func (r *postgresSubmissionRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Submission, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + submissionColumns + ` FROM submissions WHERE id = $1`
	return r.scanSubmission(executor.QueryRowContext(ctx, query, id))
}

// CountSince counts every submission of the participant made at or after since,
// whatever its status.
func (r *postgresSubmissionRepository) CountSince(ctx context.Context, exec SQLExecutor, competitionID, participantID int, since time.Time) (int, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT COUNT(*) FROM submissions
		WHERE competition_id = $1 AND participant_id = $2 AND submitted_at >= $3`
	var count int
	if err := executor.QueryRowContext(ctx, query, competitionID, participantID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

func (r *postgresSubmissionRepository) ListByParticipant(ctx context.Context, competitionID, participantID, limit, offset int) ([]*models.Submission, error) {
	query := `SELECT` + submissionColumns + `
		FROM submissions
		WHERE competition_id = $1 AND participant_id = $2
		ORDER BY submitted_at DESC, id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, competitionID, participantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.scanSubmissions(rows)
}

func (r *postgresSubmissionRepository) MarkScored(ctx context.Context, exec SQLExecutor, id int, score float64, scoredAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE submissions SET status = $1, score = $2, scored_at = $3
		WHERE id = $4 AND status = $5`
	result, err := executor.ExecContext(ctx, query, models.SubmissionScored, score, scoredAt, id, models.SubmissionPending)
	if err != nil {
		return fmt.Errorf("failed to mark submission %d scored: %w", id, err)
	}
	return checkAffectedRows(result, ErrSubmissionNotPending)
}

func (r *postgresSubmissionRepository) MarkError(ctx context.Context, exec SQLExecutor, id int, reason models.SubmissionErrorReason, message string, at time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE submissions SET status = $1, error_reason = $2, error_message = $3, scored_at = $4
		WHERE id = $5 AND status = $6`
	result, err := executor.ExecContext(ctx, query, models.SubmissionError, reason, message, at, id, models.SubmissionPending)
	if err != nil {
		return fmt.Errorf("failed to mark submission %d errored: %w", id, err)
	}
	return checkAffectedRows(result, ErrSubmissionNotPending)
}

func (r *postgresSubmissionRepository) FailPendingByCompetition(ctx context.Context, exec SQLExecutor, competitionID int, reason models.SubmissionErrorReason, message string, at time.Time) (int64, error) {
	executor := r.getExecutor(exec)
	query := `
		UPDATE submissions SET status = $1, error_reason = $2, error_message = $3, scored_at = $4
		WHERE competition_id = $5 AND status = $6`
	result, err := executor.ExecContext(ctx, query, models.SubmissionError, reason, message, at, competitionID, models.SubmissionPending)
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending submissions of competition %d: %w", competitionID, err)
	}
	return result.RowsAffected()
}

func (r *postgresSubmissionRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Submission, error) {
	query := `SELECT` + submissionColumns + `
		FROM submissions
		WHERE status = $1 AND submitted_at < $2
		ORDER BY submitted_at, id
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, models.SubmissionPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return r.scanSubmissions(rows)
}

// ListScored returns scored submissions in id order, optionally for one participant.
func (r *postgresSubmissionRepository) ListScored(ctx context.Context, exec SQLExecutor, competitionID int, participantID *int) ([]*models.Submission, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + submissionColumns + `
		FROM submissions
		WHERE competition_id = $1 AND status = $2 AND ($3::int IS NULL OR participant_id = $3)
		ORDER BY id`
	rows, err := executor.QueryContext(ctx, query, competitionID, models.SubmissionScored, participantID)
	if err != nil {
		return nil, err
	}
	return r.scanSubmissions(rows)
}

func (r *postgresSubmissionRepository) LatestScored(ctx context.Context, exec SQLExecutor, competitionID, participantID int) (*models.Submission, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + submissionColumns + `
		FROM submissions
		WHERE competition_id = $1 AND participant_id = $2 AND status = $3
		ORDER BY submitted_at DESC, id DESC
		LIMIT 1`
	return r.scanSubmission(executor.QueryRowContext(ctx, query, competitionID, participantID, models.SubmissionScored))
}

func (r *postgresSubmissionRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrSubmissionNotFound)
}
