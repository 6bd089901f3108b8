package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx, so repository methods can run
// standalone or inside a caller's transaction.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Transactor runs a function inside a database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise (or on panic).
type Transactor interface {
	WithinTx(ctx context.Context, fn func(exec SQLExecutor) error) error
	// WithinReadTx runs fn in a read-only REPEATABLE READ transaction, so every query
	// in fn observes the same snapshot.
	WithinReadTx(ctx context.Context, fn func(exec SQLExecutor) error) error
}

type sqlTransactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) Transactor {
	return &sqlTransactor{db: db}
}

func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(exec SQLExecutor) error) error {
	return t.run(ctx, nil, fn)
}

func (t *sqlTransactor) WithinReadTx(ctx context.Context, fn func(exec SQLExecutor) error) error {
	return t.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (t *sqlTransactor) run(ctx context.Context, opts *sql.TxOptions, fn func(exec SQLExecutor) error) (txErr error) {
	tx, err := t.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				txErr = fmt.Errorf("%w (rollback also failed: %v)", txErr, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			txErr = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	txErr = fn(tx)
	return txErr
}

// LockCompetitionRanking serializes leaderboard writers of one competition until the
// surrounding transaction ends. It uses the single-key lock space.
func LockCompetitionRanking(ctx context.Context, exec SQLExecutor, competitionID int) error {
	_, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1::bigint)`, int64(competitionID))
	if err != nil {
		return fmt.Errorf("failed to lock ranking of competition %d: %w", competitionID, err)
	}
	return nil
}

// LockParticipantQuota serializes submission inserts of one participant in one
// competition. It uses the two-key lock space, which never collides with ranking locks.
func LockParticipantQuota(ctx context.Context, exec SQLExecutor, competitionID, participantID int) error {
	_, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1::int, $2::int)`, int32(competitionID), int32(participantID))
	if err != nil {
		return fmt.Errorf("failed to lock quota of participant %d in competition %d: %w", participantID, competitionID, err)
	}
	return nil
}
