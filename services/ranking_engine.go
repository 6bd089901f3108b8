package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/palanteer/metrics"
	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/ranking"
	"github.com/Dosada05/palanteer/repositories"
	"github.com/Dosada05/palanteer/scoring"
)

// RankNotifier receives leaderboard changes after they are committed.
type RankNotifier interface {
	NotifyRankChange(participantID, competitionID, newRank int)
	PublishLeaderboardUpdate(competitionID, participants int)
}

type noopRankNotifier struct{}

func (noopRankNotifier) NotifyRankChange(int, int, int)  {}
func (noopRankNotifier) PublishLeaderboardUpdate(int, int) {}

// ApplyOutcome summarizes a committed leaderboard write.
type ApplyOutcome struct {
	CompetitionID int
	ParticipantID int
	Improved      bool
	Entry         *models.LeaderboardEntry
	Changes       []ranking.RankChange
	Participants  int
}

// RankingEngine is the single writer of leaderboard entries. Writes for one competition
// are serialized by an in-process mutex and a transaction-scoped advisory lock, so
// several service instances can share one database.
type RankingEngine struct {
	tx           repositories.Transactor
	competitions repositories.CompetitionRepository
	submissions  repositories.SubmissionRepository
	leaderboard  repositories.LeaderboardRepository
	notifier     RankNotifier
	logger       *slog.Logger
	locks        *keyedMutex
	now          func() time.Time
}

func NewRankingEngine(
	tx repositories.Transactor,
	competitions repositories.CompetitionRepository,
	submissions repositories.SubmissionRepository,
	leaderboard repositories.LeaderboardRepository,
	notifier RankNotifier,
	logger *slog.Logger,
) *RankingEngine {
	if notifier == nil {
		notifier = noopRankNotifier{}
	}
	return &RankingEngine{
		tx:           tx,
		competitions: competitions,
		submissions:  submissions,
		leaderboard:  leaderboard,
		notifier:     notifier,
		logger:       logger,
		locks:        newKeyedMutex(),
		now:          time.Now,
	}
}

func directionOf(c *models.Competition) (ranking.Direction, error) {
	metric, err := scoring.LookupMetric(c.MetricType)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMetric, c.MetricType)
	}
	return metric.Direction(), nil
}

// ApplyScore marks a pending submission scored, folds the score into the participant's
// entry and re-ranks the competition, all in one transaction. A submission that already
// left pending is reported with repositories.ErrSubmissionNotPending and changes nothing.
func (e *RankingEngine) ApplyScore(ctx context.Context, submissionID int, score float64) (*ApplyOutcome, error) {
	sub, err := e.submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSubmissionNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, systemError("load submission", err)
	}

	unlock := e.locks.Lock(sub.CompetitionID)
	defer unlock()

	outcome := &ApplyOutcome{CompetitionID: sub.CompetitionID, ParticipantID: sub.ParticipantID}
	err = e.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := repositories.LockCompetitionRanking(ctx, exec, sub.CompetitionID); err != nil {
			return err
		}
		competition, err := e.competitions.GetByID(ctx, exec, sub.CompetitionID)
		if err != nil {
			return err
		}
		dir, err := directionOf(competition)
		if err != nil {
			return err
		}

		if err := e.submissions.MarkScored(ctx, exec, sub.ID, score, e.now().UTC()); err != nil {
			return err
		}

		entry, err := e.leaderboard.GetByParticipant(ctx, exec, sub.CompetitionID, sub.ParticipantID)
		switch {
		case errors.Is(err, repositories.ErrLeaderboardEntryNotFound):
			entry = &models.LeaderboardEntry{
				CompetitionID:     sub.CompetitionID,
				ParticipantID:     sub.ParticipantID,
				BestScore:         score,
				BestSubmissionID:  sub.ID,
				LastImprovementAt: sub.SubmittedAt,
			}
			outcome.Improved = true
		case err != nil:
			return err
		default:
			outcome.Improved = ranking.Improve(entry, score, sub.SubmittedAt, sub.ID, dir)
		}
		entry.SubmissionCount++
		entry.UpdatedAt = e.now().UTC()
		if err := e.leaderboard.Upsert(ctx, exec, entry); err != nil {
			return err
		}

		changes, participants, err := e.rerank(ctx, exec, sub.CompetitionID, dir)
		if err != nil {
			return err
		}
		outcome.Changes = changes
		outcome.Participants = participants
		outcome.Entry = entry
		return nil
	})
	if err != nil {
		metrics.RankUpdates.WithLabelValues("failed").Inc()
		return nil, e.classify("apply score", err)
	}
	metrics.RankUpdates.WithLabelValues("committed").Inc()

	e.publish(outcome.CompetitionID, outcome.Changes, outcome.Participants)
	return outcome, nil
}

// RemoveSubmission deletes a submission (moderation) and rebuilds its participant's
// entry from the remaining scored submissions.
func (e *RankingEngine) RemoveSubmission(ctx context.Context, submissionID int) (*models.Submission, error) {
	sub, err := e.submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSubmissionNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, systemError("load submission", err)
	}

	unlock := e.locks.Lock(sub.CompetitionID)
	defer unlock()

	var (
		changes      []ranking.RankChange
		participants int
	)
	err = e.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := repositories.LockCompetitionRanking(ctx, exec, sub.CompetitionID); err != nil {
			return err
		}
		competition, err := e.competitions.GetByID(ctx, exec, sub.CompetitionID)
		if err != nil {
			return err
		}
		dir, err := directionOf(competition)
		if err != nil {
			return err
		}

		participantID := sub.ParticipantID
		scored, err := e.submissions.ListScored(ctx, exec, sub.CompetitionID, &participantID)
		if err != nil {
			return err
		}
		remaining := make([]*models.Submission, 0, len(scored))
		for _, s := range scored {
			if s.ID != sub.ID {
				remaining = append(remaining, s)
			}
		}

		// The entry must stop pointing at the submission before the row goes away.
		if entry := buildEntry(sub.CompetitionID, participantID, remaining, dir); entry != nil {
			if existing, err := e.leaderboard.GetByParticipant(ctx, exec, sub.CompetitionID, participantID); err == nil {
				entry.Rank = existing.Rank
			}
			entry.UpdatedAt = e.now().UTC()
			if err := e.leaderboard.Upsert(ctx, exec, entry); err != nil {
				return err
			}
		} else if err := e.leaderboard.Delete(ctx, exec, sub.CompetitionID, participantID); err != nil &&
			!errors.Is(err, repositories.ErrLeaderboardEntryNotFound) {
			return err
		}

		if err := e.submissions.Delete(ctx, exec, sub.ID); err != nil {
			return err
		}

		changes, participants, err = e.rerank(ctx, exec, sub.CompetitionID, dir)
		return err
	})
	if err != nil {
		return nil, e.classify("remove submission", err)
	}

	e.publish(sub.CompetitionID, changes, participants)
	return sub, nil
}

// Rebuild recomputes every entry of a competition from its scored submissions.
func (e *RankingEngine) Rebuild(ctx context.Context, competitionID int) (int, error) {
	unlock := e.locks.Lock(competitionID)
	defer unlock()

	var (
		changes      []ranking.RankChange
		participants int
	)
	err := e.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := repositories.LockCompetitionRanking(ctx, exec, competitionID); err != nil {
			return err
		}
		competition, err := e.competitions.GetByID(ctx, exec, competitionID)
		if err != nil {
			return err
		}
		dir, err := directionOf(competition)
		if err != nil {
			return err
		}

		previous, err := e.leaderboard.ListByCompetition(ctx, exec, competitionID)
		if err != nil {
			return err
		}
		previousRanks := make(map[int]int, len(previous))
		for _, p := range previous {
			previousRanks[p.ParticipantID] = p.Rank
		}

		scored, err := e.submissions.ListScored(ctx, exec, competitionID, nil)
		if err != nil {
			return err
		}
		byParticipant := make(map[int][]*models.Submission)
		var order []int
		for _, s := range scored {
			if _, seen := byParticipant[s.ParticipantID]; !seen {
				order = append(order, s.ParticipantID)
			}
			byParticipant[s.ParticipantID] = append(byParticipant[s.ParticipantID], s)
		}

		if err := e.leaderboard.DeleteByCompetition(ctx, exec, competitionID); err != nil {
			return err
		}
		entries := make([]*models.LeaderboardEntry, 0, len(order))
		for _, participantID := range order {
			entry := buildEntry(competitionID, participantID, byParticipant[participantID], dir)
			if entry == nil {
				continue
			}
			entry.Rank = previousRanks[participantID]
			entry.UpdatedAt = e.now().UTC()
			if err := e.leaderboard.Upsert(ctx, exec, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		changes = ranking.Assign(entries, dir)
		if err := ranking.Verify(entries, dir); err != nil {
			return err
		}
		participants = len(entries)
		// Upsert stored the previous ranks; persist the assigned ones.
		return e.leaderboard.UpdateRanks(ctx, exec, competitionID, entries)
	})
	if err != nil {
		return 0, e.classify("rebuild leaderboard", err)
	}

	e.publish(competitionID, changes, participants)
	return participants, nil
}

// rerank loads the whole competition, assigns dense ranks and writes the ones that moved.
func (e *RankingEngine) rerank(ctx context.Context, exec repositories.SQLExecutor, competitionID int, dir ranking.Direction) ([]ranking.RankChange, int, error) {
	entries, err := e.leaderboard.ListByCompetition(ctx, exec, competitionID)
	if err != nil {
		return nil, 0, err
	}
	changes := ranking.Assign(entries, dir)
	if err := ranking.Verify(entries, dir); err != nil {
		return nil, 0, err
	}
	if len(changes) > 0 {
		moved := make(map[int]bool, len(changes))
		for _, c := range changes {
			moved[c.ParticipantID] = true
		}
		changed := make([]*models.LeaderboardEntry, 0, len(changes))
		for _, entry := range entries {
			if moved[entry.ParticipantID] {
				changed = append(changed, entry)
			}
		}
		if err := e.leaderboard.UpdateRanks(ctx, exec, competitionID, changed); err != nil {
			return nil, 0, err
		}
	}
	return changes, len(entries), nil
}

// buildEntry folds scored submissions into a fresh entry; nil when there are none.
func buildEntry(competitionID, participantID int, scored []*models.Submission, dir ranking.Direction) *models.LeaderboardEntry {
	var entry *models.LeaderboardEntry
	for _, s := range scored {
		if s.Score == nil {
			continue
		}
		if entry == nil {
			entry = &models.LeaderboardEntry{
				CompetitionID:     competitionID,
				ParticipantID:     participantID,
				BestScore:         *s.Score,
				BestSubmissionID:  s.ID,
				LastImprovementAt: s.SubmittedAt,
			}
		} else {
			ranking.Improve(entry, *s.Score, s.SubmittedAt, s.ID, dir)
		}
		entry.SubmissionCount++
	}
	return entry
}

func (e *RankingEngine) publish(competitionID int, changes []ranking.RankChange, participants int) {
	for _, c := range changes {
		e.notifier.NotifyRankChange(c.ParticipantID, competitionID, c.NewRank)
	}
	e.notifier.PublishLeaderboardUpdate(competitionID, participants)
}

// classify keeps domain sentinels and wraps everything else as a SystemError.
func (e *RankingEngine) classify(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrSubmissionNotPending):
		return err
	case errors.Is(err, repositories.ErrCompetitionNotFound):
		return ErrCompetitionNotFound
	case errors.Is(err, repositories.ErrSubmissionNotFound):
		return ErrSubmissionNotFound
	case errors.Is(err, ErrInvalidMetric):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	if e.logger != nil {
		e.logger.Error("Leaderboard transaction failed", slog.String("operation", op), slog.Any("error", err))
	}
	return systemError(op, err)
}
