package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/palanteer/models"
	"github.com/lib/pq"
)

var (
	ErrCompetitionNotFound     = errors.New("competition not found")
	ErrCompetitionSlugConflict = errors.New("competition slug already taken")
	ErrCompetitionInvalidOrg   = errors.New("invalid organizer reference")
	ErrCompetitionInUse        = errors.New("competition has submissions")
)

type ListCompetitionsFilter struct {
	Status      *models.CompetitionStatus
	Visibility  *models.CompetitionVisibility
	OrganizerID *int
	Limit       int
	Offset      int
}

type CompetitionRepository interface {
	Create(ctx context.Context, competition *models.Competition) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Competition, error)
	List(ctx context.Context, filter ListCompetitionsFilter) ([]models.Competition, error)
	Update(ctx context.Context, competition *models.Competition) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.CompetitionStatus) error
	UpdateGroundTruthKey(ctx context.Context, id int, key *string) error
	ListForAutoStatusUpdate(ctx context.Context, exec SQLExecutor, now time.Time) ([]*models.Competition, error)
}

type postgresCompetitionRepository struct {
	db *sql.DB
}

func NewPostgresCompetitionRepository(db *sql.DB) CompetitionRepository {
	return &postgresCompetitionRepository{db: db}
}

func (r *postgresCompetitionRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const competitionColumns = `
	id, slug, title, description, metric_type, key_column, target_column,
	start_at, end_at, visibility, status, daily_submission_limit, quota_reset_hour,
	max_file_size_bytes, allowed_extensions, scoring_policy, ground_truth_key,
	organizer_id, created_at, updated_at`

func (r *postgresCompetitionRepository) scanCompetition(rowScanner interface{ Scan(...interface{}) error }) (*models.Competition, error) {
	var c models.Competition
	err := rowScanner.Scan(
		&c.ID, &c.Slug, &c.Title, &c.Description, &c.MetricType, &c.KeyColumn, &c.TargetColumn,
		&c.StartAt, &c.EndAt, &c.Visibility, &c.Status, &c.DailySubmissionLimit, &c.QuotaResetHour,
		&c.MaxFileSizeBytes, pq.Array(&c.AllowedExtensions), &c.ScoringPolicyJSON, &c.GroundTruthKey,
		&c.OrganizerID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCompetitionNotFound
		}
		return nil, err
	}
	c.HasGroundTruth = c.GroundTruthKey != nil && *c.GroundTruthKey != ""
	return &c, nil
}

func (r *postgresCompetitionRepository) Create(ctx context.Context, c *models.Competition) error {
	query := `
		INSERT INTO competitions (
			slug, title, description, metric_type, key_column, target_column,
			start_at, end_at, visibility, status, daily_submission_limit, quota_reset_hour,
			max_file_size_bytes, allowed_extensions, scoring_policy, organizer_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		c.Slug, c.Title, c.Description, c.MetricType, c.KeyColumn, c.TargetColumn,
		c.StartAt, c.EndAt, c.Visibility, c.Status, c.DailySubmissionLimit, c.QuotaResetHour,
		c.MaxFileSizeBytes, pq.Array(c.AllowedExtensions), c.ScoringPolicyJSON, c.OrganizerID,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)

	return r.handleCompetitionError(err)
}

func (r *postgresCompetitionRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Competition, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + competitionColumns + ` FROM competitions WHERE id = $1`
	return r.scanCompetition(executor.QueryRowContext(ctx, query, id))
}

func (r *postgresCompetitionRepository) List(ctx context.Context, filter ListCompetitionsFilter) ([]models.Competition, error) {
	query := `SELECT` + competitionColumns + ` FROM competitions WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}
	if filter.Visibility != nil {
		query += fmt.Sprintf(" AND visibility = $%d", argID)
		args = append(args, *filter.Visibility)
		argID++
	}
	if filter.OrganizerID != nil {
		query += fmt.Sprintf(" AND organizer_id = $%d", argID)
		args = append(args, *filter.OrganizerID)
		argID++
	}

	query += " ORDER BY start_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	competitions := make([]models.Competition, 0)
	for rows.Next() {
		c, scanErr := r.scanCompetition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		competitions = append(competitions, *c)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return competitions, nil
}

// Update writes the administratively editable fields. Scoring configuration columns
// are included and are only changed by the service while a competition is upcoming.
func (r *postgresCompetitionRepository) Update(ctx context.Context, c *models.Competition) error {
	query := `
		UPDATE competitions SET
			title = $1,
			description = $2,
			metric_type = $3,
			key_column = $4,
			target_column = $5,
			start_at = $6,
			end_at = $7,
			visibility = $8,
			daily_submission_limit = $9,
			quota_reset_hour = $10,
			max_file_size_bytes = $11,
			allowed_extensions = $12,
			scoring_policy = $13,
			updated_at = NOW()
		WHERE id = $14
		RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		c.Title, c.Description, c.MetricType, c.KeyColumn, c.TargetColumn,
		c.StartAt, c.EndAt, c.Visibility, c.DailySubmissionLimit, c.QuotaResetHour,
		c.MaxFileSizeBytes, pq.Array(c.AllowedExtensions), c.ScoringPolicyJSON,
		c.ID,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCompetitionNotFound
	}
	return r.handleCompetitionError(err)
}

func (r *postgresCompetitionRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.CompetitionStatus) error {
	executor := r.getExecutor(exec)
	query := `UPDATE competitions SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := executor.ExecContext(ctx, query, status, id)
	if err != nil {
		return r.handleCompetitionError(err)
	}
	return checkAffectedRows(result, ErrCompetitionNotFound)
}

func (r *postgresCompetitionRepository) UpdateGroundTruthKey(ctx context.Context, id int, key *string) error {
	query := `UPDATE competitions SET ground_truth_key = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, key, id)
	if err != nil {
		return fmt.Errorf("failed to update ground truth key: %w", err)
	}
	return checkAffectedRows(result, ErrCompetitionNotFound)
}

// ListForAutoStatusUpdate returns competitions whose dates call for a status change:
// upcoming ones that have started and active ones that have ended.
func (r *postgresCompetitionRepository) ListForAutoStatusUpdate(ctx context.Context, exec SQLExecutor, now time.Time) ([]*models.Competition, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + competitionColumns + `
		FROM competitions
		WHERE (status = $1 AND start_at <= $3)
		   OR (status = $2 AND end_at <= $3)
		ORDER BY id`

	rows, err := executor.QueryContext(ctx, query, models.CompetitionUpcoming, models.CompetitionActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query competitions for auto status update: %w", err)
	}
	defer rows.Close()

	var competitions []*models.Competition
	for rows.Next() {
		c, scanErr := r.scanCompetition(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan competition for auto status update: %w", scanErr)
		}
		competitions = append(competitions, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during competition rows iteration for auto status update: %w", err)
	}
	return competitions, nil
}

func (r *postgresCompetitionRepository) handleCompetitionError(err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := pqConstraint(err, codeUniqueViolation); ok && constraint == "competitions_slug_key" {
		return ErrCompetitionSlugConflict
	}
	if constraint, ok := pqConstraint(err, codeForeignKeyViolation); ok {
		if constraint == "competitions_organizer_id_fkey" {
			return ErrCompetitionInvalidOrg
		}
		return ErrCompetitionInUse
	}
	return err
}
