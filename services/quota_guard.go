package services

import (
	"context"
	"errors"
	"time"

	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/repositories"
)

// QuotaStatus reports a participant's standing against the daily submission limit.
// Limit 0 means unlimited; Remaining is -1 in that case.
type QuotaStatus struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// QuotaGuard counts submissions per (participant, competition, quota day). A quota day
// starts at the competition's reset hour in UTC.
type QuotaGuard struct {
	competitions repositories.CompetitionRepository
	submissions  repositories.SubmissionRepository
	now          func() time.Time
}

func NewQuotaGuard(competitions repositories.CompetitionRepository, submissions repositories.SubmissionRepository, now func() time.Time) *QuotaGuard {
	if now == nil {
		now = time.Now
	}
	return &QuotaGuard{competitions: competitions, submissions: submissions, now: now}
}

// QuotaWindow returns the quota day containing now.
func QuotaWindow(now time.Time, resetHour int) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start, start.AddDate(0, 0, 1)
}

func (q *QuotaGuard) CanSubmit(ctx context.Context, participantID, competitionID int) (bool, int, error) {
	competition, err := q.competitions.GetByID(ctx, nil, competitionID)
	if err != nil {
		if errors.Is(err, repositories.ErrCompetitionNotFound) {
			return false, 0, ErrCompetitionNotFound
		}
		return false, 0, systemError("load competition", err)
	}
	status, err := q.Status(ctx, nil, competition, participantID)
	if err != nil {
		return false, 0, err
	}
	return status.Allowed, status.Remaining, nil
}

// Status counts through exec so the insert path can re-check inside its locked transaction.
func (q *QuotaGuard) Status(ctx context.Context, exec repositories.SQLExecutor, competition *models.Competition, participantID int) (*QuotaStatus, error) {
	start, end := QuotaWindow(q.now(), competition.QuotaResetHour)
	status := &QuotaStatus{Limit: competition.DailySubmissionLimit, ResetsAt: end}

	used, err := q.submissions.CountSince(ctx, exec, competition.ID, participantID, start)
	if err != nil {
		return nil, systemError("count submissions", err)
	}
	status.Used = used

	if competition.DailySubmissionLimit <= 0 {
		status.Limit = 0
		status.Allowed = true
		status.Remaining = -1
		return status, nil
	}
	status.Remaining = competition.DailySubmissionLimit - used
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	status.Allowed = status.Remaining > 0
	return status, nil
}
