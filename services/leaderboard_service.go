package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/repositories"
)

const (
	DefaultLeaderboardPageSize = 20
	MaxLeaderboardPageSize     = 100

	leaderboardReadTimeout = 10 * time.Second
)

type LeaderboardPage struct {
	CompetitionID     int                        `json:"competition_id"`
	Page              int                        `json:"page"`
	PageSize          int                        `json:"page_size"`
	TotalParticipants int                        `json:"total_participants"`
	Entries           []*models.LeaderboardEntry `json:"entries"`
	Stats             models.LeaderboardStats    `json:"stats"`
	// Viewer is the requesting participant's own entry, present even when it is outside the page.
	Viewer *models.LeaderboardEntry `json:"viewer,omitempty"`
}

type ParticipantRank struct {
	CompetitionID   int      `json:"competition_id"`
	ParticipantID   int      `json:"participant_id"`
	DisplayName     string   `json:"display_name"`
	Rank            int      `json:"rank"`
	Score           *float64 `json:"score"`
	BestScore       float64  `json:"best_score"`
	SubmissionCount int      `json:"submission_count"`
}

type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, competitionID, page, pageSize int, viewerID *int) (*LeaderboardPage, error)
	GetParticipantRank(ctx context.Context, competitionID, participantID int) (*ParticipantRank, error)
}

type leaderboardService struct {
	tx           repositories.Transactor
	competitions repositories.CompetitionRepository
	submissions  repositories.SubmissionRepository
	leaderboard  repositories.LeaderboardRepository
	group        singleflight.Group
}

func NewLeaderboardService(
	tx repositories.Transactor,
	competitions repositories.CompetitionRepository,
	submissions repositories.SubmissionRepository,
	leaderboard repositories.LeaderboardRepository,
) LeaderboardService {
	return &leaderboardService{
		tx:           tx,
		competitions: competitions,
		submissions:  submissions,
		leaderboard:  leaderboard,
	}
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = DefaultLeaderboardPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > MaxLeaderboardPageSize:
		pageSize = MaxLeaderboardPageSize
	}
	return page, pageSize
}

// GetLeaderboard reads the page, the aggregates and the viewer's entry from one snapshot.
// Identical concurrent requests share a single read.
func (s *leaderboardService) GetLeaderboard(ctx context.Context, competitionID, page, pageSize int, viewerID *int) (*LeaderboardPage, error) {
	page, pageSize = normalizePage(page, pageSize)

	viewer := 0
	if viewerID != nil {
		viewer = *viewerID
	}
	key := fmt.Sprintf("%d:%d:%d:%d", competitionID, page, pageSize, viewer)

	// The shared read ignores any single caller's cancellation and is bounded by its own timeout.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaderboardReadTimeout)
		defer cancel()
		return s.readLeaderboard(readCtx, competitionID, page, pageSize, viewerID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LeaderboardPage), nil
	}
}

func (s *leaderboardService) readLeaderboard(ctx context.Context, competitionID, page, pageSize int, viewerID *int) (*LeaderboardPage, error) {
	result := &LeaderboardPage{CompetitionID: competitionID, Page: page, PageSize: pageSize}

	err := s.tx.WithinReadTx(ctx, func(exec repositories.SQLExecutor) error {
		if _, err := s.competitions.GetByID(ctx, exec, competitionID); err != nil {
			return err
		}
		entries, err := s.leaderboard.ListPage(ctx, exec, competitionID, pageSize, (page-1)*pageSize)
		if err != nil {
			return err
		}
		stats, err := s.leaderboard.Stats(ctx, exec, competitionID)
		if err != nil {
			return err
		}
		result.Entries = entries
		result.Stats = *stats
		result.TotalParticipants = stats.TotalParticipants

		if viewerID != nil {
			entry, err := s.leaderboard.GetByParticipant(ctx, exec, competitionID, *viewerID)
			switch {
			case err == nil:
				result.Viewer = entry
			case !errors.Is(err, repositories.ErrLeaderboardEntryNotFound):
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrCompetitionNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, systemError("read leaderboard", err)
	}
	return result, nil
}

func (s *leaderboardService) GetParticipantRank(ctx context.Context, competitionID, participantID int) (*ParticipantRank, error) {
	var result *ParticipantRank
	err := s.tx.WithinReadTx(ctx, func(exec repositories.SQLExecutor) error {
		entry, err := s.leaderboard.GetByParticipant(ctx, exec, competitionID, participantID)
		if err != nil {
			return err
		}
		result = &ParticipantRank{
			CompetitionID:   competitionID,
			ParticipantID:   participantID,
			DisplayName:     entry.DisplayName,
			Rank:            entry.Rank,
			BestScore:       entry.BestScore,
			SubmissionCount: entry.SubmissionCount,
		}
		latest, err := s.submissions.LatestScored(ctx, exec, competitionID, participantID)
		switch {
		case err == nil:
			result.Score = latest.Score
		case !errors.Is(err, repositories.ErrSubmissionNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrLeaderboardEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, systemError("read participant rank", err)
	}
	return result, nil
}
