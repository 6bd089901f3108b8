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

var ErrLeaderboardEntryNotFound = errors.New("leaderboard entry not found")

type LeaderboardRepository interface {
	GetByParticipant(ctx context.Context, exec SQLExecutor, competitionID, participantID int) (*models.LeaderboardEntry, error)
	ListByCompetition(ctx context.Context, exec SQLExecutor, competitionID int) ([]*models.LeaderboardEntry, error)
	ListPage(ctx context.Context, exec SQLExecutor, competitionID, limit, offset int) ([]*models.LeaderboardEntry, error)
	Upsert(ctx context.Context, exec SQLExecutor, entry *models.LeaderboardEntry) error
	UpdateRanks(ctx context.Context, exec SQLExecutor, competitionID int, entries []*models.LeaderboardEntry) error
	Delete(ctx context.Context, exec SQLExecutor, competitionID, participantID int) error
	DeleteByCompetition(ctx context.Context, exec SQLExecutor, competitionID int) error
	Stats(ctx context.Context, exec SQLExecutor, competitionID int) (*models.LeaderboardStats, error)
}

type postgresLeaderboardRepository struct {
	db *sql.DB
}

func NewPostgresLeaderboardRepository(db *sql.DB) LeaderboardRepository {
	return &postgresLeaderboardRepository{db: db}
}

func (r *postgresLeaderboardRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const leaderboardSelect = `
	SELECT le.id, le.competition_id, le.participant_id, le.best_score, le.best_submission_id,
	       le.submission_count, le.rank, le.last_improvement_at, le.updated_at,
	       COALESCE(u.display_name, '')
	FROM leaderboard_entries le
	LEFT JOIN users u ON u.id = le.participant_id`

func (r *postgresLeaderboardRepository) scanEntry(rowScanner interface{ Scan(...interface{}) error }) (*models.LeaderboardEntry, error) {
	var e models.LeaderboardEntry
	err := rowScanner.Scan(
		&e.ID, &e.CompetitionID, &e.ParticipantID, &e.BestScore, &e.BestSubmissionID,
		&e.SubmissionCount, &e.Rank, &e.LastImprovementAt, &e.UpdatedAt,
		&e.DisplayName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLeaderboardEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *postgresLeaderboardRepository) list(ctx context.Context, executor SQLExecutor, query string, args ...interface{}) ([]*models.LeaderboardEntry, error) {
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.LeaderboardEntry, 0)
	for rows.Next() {
		e, scanErr := r.scanEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *postgresLeaderboardRepository) GetByParticipant(ctx context.Context, exec SQLExecutor, competitionID, participantID int) (*models.LeaderboardEntry, error) {
	executor := r.getExecutor(exec)
	query := leaderboardSelect + ` WHERE le.competition_id = $1 AND le.participant_id = $2`
	return r.scanEntry(executor.QueryRowContext(ctx, query, competitionID, participantID))
}

func (r *postgresLeaderboardRepository) ListByCompetition(ctx context.Context, exec SQLExecutor, competitionID int) ([]*models.LeaderboardEntry, error) {
	query := leaderboardSelect + ` WHERE le.competition_id = $1 ORDER BY le.rank, le.participant_id`
	return r.list(ctx, r.getExecutor(exec), query, competitionID)
}

func (r *postgresLeaderboardRepository) ListPage(ctx context.Context, exec SQLExecutor, competitionID, limit, offset int) ([]*models.LeaderboardEntry, error) {
	query := leaderboardSelect + `
		WHERE le.competition_id = $1
		ORDER BY le.rank, le.participant_id
		LIMIT $2 OFFSET $3`
	return r.list(ctx, r.getExecutor(exec), query, competitionID, limit, offset)
}

func (r *postgresLeaderboardRepository) Upsert(ctx context.Context, exec SQLExecutor, e *models.LeaderboardEntry) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO leaderboard_entries
			(competition_id, participant_id, best_score, best_submission_id, submission_count, rank, last_improvement_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (competition_id, participant_id) DO UPDATE SET
			best_score = EXCLUDED.best_score,
			best_submission_id = EXCLUDED.best_submission_id,
			submission_count = EXCLUDED.submission_count,
			last_improvement_at = EXCLUDED.last_improvement_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	err := executor.QueryRowContext(ctx, query,
		e.CompetitionID, e.ParticipantID, e.BestScore, e.BestSubmissionID, e.SubmissionCount,
		e.Rank, e.LastImprovementAt, e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert leaderboard entry c:%d p:%d: %w", e.CompetitionID, e.ParticipantID, err)
	}
	return nil
}

// UpdateRanks writes the Rank of every given entry in one statement.
func (r *postgresLeaderboardRepository) UpdateRanks(ctx context.Context, exec SQLExecutor, competitionID int, entries []*models.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	executor := r.getExecutor(exec)
	participantIDs := make([]int64, len(entries))
	ranks := make([]int64, len(entries))
	for i, e := range entries {
		participantIDs[i] = int64(e.ParticipantID)
		ranks[i] = int64(e.Rank)
	}
	query := `
		UPDATE leaderboard_entries le SET rank = v.rank, updated_at = NOW()
		FROM unnest($2::bigint[], $3::bigint[]) AS v(participant_id, rank)
		WHERE le.competition_id = $1 AND le.participant_id = v.participant_id AND le.rank <> v.rank`
	if _, err := executor.ExecContext(ctx, query, competitionID, pq.Array(participantIDs), pq.Array(ranks)); err != nil {
		return fmt.Errorf("failed to update ranks of competition %d: %w", competitionID, err)
	}
	return nil
}

func (r *postgresLeaderboardRepository) Delete(ctx context.Context, exec SQLExecutor, competitionID, participantID int) error {
	executor := r.getExecutor(exec)
	query := `DELETE FROM leaderboard_entries WHERE competition_id = $1 AND participant_id = $2`
	result, err := executor.ExecContext(ctx, query, competitionID, participantID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrLeaderboardEntryNotFound)
}

func (r *postgresLeaderboardRepository) DeleteByCompetition(ctx context.Context, exec SQLExecutor, competitionID int) error {
	executor := r.getExecutor(exec)
	_, err := executor.ExecContext(ctx, `DELETE FROM leaderboard_entries WHERE competition_id = $1`, competitionID)
	return err
}

// Stats aggregates the entries of a competition. TopScore is the best score of the rank-1 entry.
func (r *postgresLeaderboardRepository) Stats(ctx context.Context, exec SQLExecutor, competitionID int) (*models.LeaderboardStats, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(submission_count), 0),
		       (SELECT best_score FROM leaderboard_entries WHERE competition_id = $1 ORDER BY rank, participant_id LIMIT 1),
		       AVG(best_score)
		FROM leaderboard_entries
		WHERE competition_id = $1`
	var (
		stats models.LeaderboardStats
		top   sql.NullFloat64
		mean  sql.NullFloat64
	)
	if err := executor.QueryRowContext(ctx, query, competitionID).Scan(&stats.TotalParticipants, &stats.TotalSubmissions, &top, &mean); err != nil {
		return nil, fmt.Errorf("failed to aggregate leaderboard of competition %d: %w", competitionID, err)
	}
	if top.Valid {
		stats.TopScore = &top.Float64
	}
	if mean.Valid {
		stats.MeanBestScore = &mean.Float64
	}
	return &stats, nil
}
