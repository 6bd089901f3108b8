package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/palanteer/models"
)

const goodPredictions = "id,target\n1,1.25\n2,2.25\n3,3.25\n4,4.25\n"

func predictionInput(competitionID, participantID int, body string) SubmitPredictionInput {
	return SubmitPredictionInput{
		CompetitionID: competitionID,
		ParticipantID: participantID,
		FileName:      "preds.csv",
		ContentType:   "text/csv",
		Size:          int64(len(body)),
		Body:          strings.NewReader(body),
	}
}

func TestSubmitPrediction_StoresAndQueues(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	c := f.activeCompetition("rmse", fourRowTruth)

	sub, err := f.submitSvc.SubmitPrediction(context.Background(), predictionInput(c.ID, 1, goodPredictions))
	require.NoError(t, err)

	assert.Equal(t, models.SubmissionPending, sub.Status)
	assert.Equal(t, int64(len(goodPredictions)), sub.FileSize)
	assert.Len(t, sub.ContentDigest, 64)
	assert.True(t, strings.HasPrefix(sub.FileKey, "submissions/1/1/"))
	assert.True(t, strings.HasSuffix(sub.FileKey, ".csv"))
	assert.Equal(t, []ScoringJob{{SubmissionID: sub.ID, CompetitionID: c.ID}}, f.queue.jobs)
	assert.Equal(t, 2, f.store.count(), "ground truth plus the new file")
}

func TestSubmitPrediction_QuotaBoundaryAndReset(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	c := f.activeCompetition("rmse", fourRowTruth)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.submitSvc.SubmitPrediction(ctx, predictionInput(c.ID, 1, goodPredictions))
		require.NoError(t, err, "submission %d", i+1)
	}
	status, err := f.submitSvc.CanSubmit(ctx, 1, c.ID)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.Remaining)
	assert.Equal(t, 5, status.Used)

	_, err = f.submitSvc.SubmitPrediction(ctx, predictionInput(c.ID, 1, goodPredictions))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 5, f.db.submissionCount())

	// Reset hour is 00:00 UTC; the fixture clock starts at noon.
	f.clock.Advance(12 * time.Hour)
	status, err = f.submitSvc.CanSubmit(ctx, 1, c.ID)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, 5, status.Remaining)

	_, err = f.submitSvc.SubmitPrediction(ctx, predictionInput(c.ID, 1, goodPredictions))
	assert.NoError(t, err)
}

func TestSubmitPrediction_QuotaHoldsUnderConcurrency(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	c := f.activeCompetition("rmse", fourRowTruth)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.submitSvc.SubmitPrediction(context.Background(), predictionInput(c.ID, 1, goodPredictions))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if assert.ErrorIs(t, err, ErrQuotaExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, 5, f.db.submissionCount())
	assert.Equal(t, 6, f.store.count(), "rejected uploads leave no stored files")
}

func TestSubmitPrediction_OversizedFileIsRejectedBeforeStorage(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	c := f.activeCompetition("rmse", fourRowTruth)

	in := predictionInput(c.ID, 1, goodPredictions)
	in.Size = 60 << 20

	_, err := f.submitSvc.SubmitPrediction(context.Background(), in)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, 0, f.db.submissionCount())
	assert.Equal(t, 0, f.store.uploads)
}

func TestSubmitPrediction_UnderstatedSizeIsCaught(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	c := f.activeCompetition("rmse", fourRowTruth)
	c.MaxFileSizeBytes = 16
	require.NoError(t, f.competitions.Update(context.Background(), c))

	in := predictionInput(c.ID, 1, goodPredictions)
	in.Size = 10

	_, err := f.submitSvc.SubmitPrediction(context.Background(), in)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, 0, f.store.uploads)
}

func TestSubmitPrediction_Rejections(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	active := f.activeCompetition("rmse", fourRowTruth)
	closed := f.activeCompetition("mae", fourRowTruth)
	require.NoError(t, f.competitions.UpdateStatus(context.Background(), nil, closed.ID, models.CompetitionCompleted))

	tests := []struct {
		name   string
		mutate func(*SubmitPredictionInput)
		want   error
	}{
		{"unsupported extension", func(in *SubmitPredictionInput) { in.FileName = "preds.txt" }, ErrUnsupportedFormat},
		{"mismatched content type", func(in *SubmitPredictionInput) { in.ContentType = "image/png" }, ErrUnsupportedFormat},
		{"empty file", func(in *SubmitPredictionInput) { in.Size = 0; in.Body = strings.NewReader("") }, ErrEmptyFile},
		{"closed competition", func(in *SubmitPredictionInput) { in.CompetitionID = closed.ID }, ErrCompetitionNotActive},
		{"unknown competition", func(in *SubmitPredictionInput) { in.CompetitionID = 404 }, ErrCompetitionNotFound},
		{"unknown participant", func(in *SubmitPredictionInput) { in.ParticipantID = 404 }, ErrParticipantNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := predictionInput(active.ID, 1, goodPredictions)
			tt.mutate(&in)
			_, err := f.submitSvc.SubmitPrediction(context.Background(), in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, f.db.submissionCount())
	assert.Equal(t, 0, f.store.uploads)
}

func TestGetSubmission_Visibility(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	c := f.activeCompetition("rmse", fourRowTruth)
	ctx := context.Background()

	sub, err := f.submitSvc.SubmitPrediction(ctx, predictionInput(c.ID, 1, goodPredictions))
	require.NoError(t, err)

	got, err := f.submitSvc.GetSubmission(ctx, sub.ID, 1, models.RoleParticipant)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = f.submitSvc.GetSubmission(ctx, sub.ID, 2, models.RoleParticipant)
	assert.ErrorIs(t, err, ErrForbiddenOperation)

	_, err = f.submitSvc.GetSubmission(ctx, sub.ID, 2, models.RoleAdmin)
	assert.NoError(t, err)

	_, err = f.submitSvc.GetSubmission(ctx, 999, 1, models.RoleParticipant)
	assert.ErrorIs(t, err, ErrSubmissionNotFound)

	list, err := f.submitSvc.ListMySubmissions(ctx, c.ID, 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeleteSubmission_RemovesFileAndEntry(t *testing.T) {
	f := newFixture()
	f.db.addParticipant(1, "alice")
	c := f.activeCompetition("rmse", fourRowTruth)
	ctx := context.Background()

	sub, err := f.submitSvc.SubmitPrediction(ctx, predictionInput(c.ID, 1, goodPredictions))
	require.NoError(t, err)
	_, err = f.engine.ApplyScore(ctx, sub.ID, 0.25)
	require.NoError(t, err)

	require.NoError(t, f.submitSvc.DeleteSubmission(ctx, sub.ID))
	assert.Equal(t, 0, f.db.submissionCount())
	assert.Equal(t, 1, f.store.count(), "only the ground truth remains")

	page, err := f.boardSvc.GetLeaderboard(ctx, c.ID, 1, 20, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}
