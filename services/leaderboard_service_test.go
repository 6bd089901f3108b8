package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/repositories"
)

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, DefaultLeaderboardPageSize},
		{-3, 10, 1, 10},
		{2, 500, 2, MaxLeaderboardPageSize},
		{4, -1, 4, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.page, tt.size), func(t *testing.T) {
			page, size := normalizePage(tt.page, tt.size)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantSize, size)
		})
	}
}

func seedLeaderboard(t *testing.T, f *fixture, competitionID, participants int) {
	t.Helper()
	for i := 1; i <= participants; i++ {
		f.db.addParticipant(i, fmt.Sprintf("user-%d", i))
		sub := f.seedPending(competitionID, i, f.clock.Now().Add(time.Duration(i)*time.Second), "")
		// Lower is better: participant 1 leads.
		_, err := f.engine.ApplyScore(context.Background(), sub.ID, float64(i)/10)
		require.NoError(t, err)
	}
}

func TestGetLeaderboard_PagesAndViewer(t *testing.T) {
	f := newFixture()
	c := f.activeCompetition("rmse", fourRowTruth)
	seedLeaderboard(t, f, c.ID, 7)
	viewer := 6

	page, err := f.boardSvc.GetLeaderboard(context.Background(), c.ID, 2, 3, &viewer)
	require.NoError(t, err)

	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.PageSize)
	assert.Equal(t, 7, page.TotalParticipants)
	require.Len(t, page.Entries, 3)
	for i, e := range page.Entries {
		assert.Equal(t, 4+i, e.Rank)
		assert.Equal(t, 4+i, e.ParticipantID)
		assert.Equal(t, fmt.Sprintf("user-%d", e.ParticipantID), e.DisplayName)
	}
	require.NotNil(t, page.Viewer)
	assert.Equal(t, 6, page.Viewer.Rank)

	assert.Equal(t, 7, page.Stats.TotalSubmissions)
	require.NotNil(t, page.Stats.TopScore)
	assert.InDelta(t, 0.1, *page.Stats.TopScore, 1e-12)
	require.NotNil(t, page.Stats.MeanBestScore)
	assert.InDelta(t, 0.4, *page.Stats.MeanBestScore, 1e-12)

	last, err := f.boardSvc.GetLeaderboard(context.Background(), c.ID, 5, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, last.Entries)
	assert.Nil(t, last.Viewer)
}

func TestGetLeaderboard_UnknownCompetition(t *testing.T) {
	f := newFixture()
	_, err := f.boardSvc.GetLeaderboard(context.Background(), 42, 1, 20, nil)
	assert.ErrorIs(t, err, ErrCompetitionNotFound)
}

func TestGetParticipantRank(t *testing.T) {
	f := newFixture()
	c := f.activeCompetition("rmse", fourRowTruth)
	seedLeaderboard(t, f, c.ID, 3)
	ctx := context.Background()

	// A worse, later score is the latest score but not the best one.
	sub := f.seedPending(c.ID, 2, f.clock.Now().Add(time.Hour), "")
	_, err := f.engine.ApplyScore(ctx, sub.ID, 0.9)
	require.NoError(t, err)

	rank, err := f.boardSvc.GetParticipantRank(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, rank.Rank)
	assert.Equal(t, "user-2", rank.DisplayName)
	assert.InDelta(t, 0.2, rank.BestScore, 1e-12)
	require.NotNil(t, rank.Score)
	assert.InDelta(t, 0.9, *rank.Score, 1e-12)
	assert.Equal(t, 2, rank.SubmissionCount)

	_, err = f.boardSvc.GetParticipantRank(ctx, c.ID, 99)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

// stallingLeaderboard holds ListPage until release is closed or the read context ends.
type stallingLeaderboard struct {
	memLeaderboard
	entered chan struct{}
	release chan struct{}
}

func (r stallingLeaderboard) ListPage(ctx context.Context, exec repositories.SQLExecutor, competitionID, limit, offset int) ([]*models.LeaderboardEntry, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.memLeaderboard.ListPage(ctx, exec, competitionID, limit, offset)
}

func TestGetLeaderboard_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	f := newFixture()
	c := f.activeCompetition("rmse", fourRowTruth)
	seedLeaderboard(t, f, c.ID, 3)

	board := stallingLeaderboard{
		memLeaderboard: memLeaderboard{f.db},
		entered:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	svc := NewLeaderboardService(memTransactor{f.db}, f.competitions, f.submissions, board)

	leadCtx, cancelLead := context.WithCancel(context.Background())
	leadErr := make(chan error, 1)
	go func() {
		_, err := svc.GetLeaderboard(leadCtx, c.ID, 1, 20, nil)
		leadErr <- err
	}()

	select {
	case <-board.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("leading read never reached the repository")
	}

	type result struct {
		page *LeaderboardPage
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		page, err := svc.GetLeaderboard(context.Background(), c.ID, 1, 20, nil)
		follower <- result{page, err}
	}()
	// Give the second caller time to join the in-flight read.
	time.Sleep(50 * time.Millisecond)

	cancelLead()
	select {
	case err := <-leadErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(board.release)
	select {
	case res := <-follower:
		require.NoError(t, res.err)
		require.NotNil(t, res.page)
		assert.Equal(t, 3, res.page.TotalParticipants)
		assert.Len(t, res.page.Entries, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}
