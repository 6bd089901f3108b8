package ranking

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/palanteer/models"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func entry(participantID int, score float64, sec int) *models.LeaderboardEntry {
	return &models.LeaderboardEntry{
		CompetitionID:     1,
		ParticipantID:     participantID,
		BestScore:         score,
		BestSubmissionID:  participantID * 100,
		LastImprovementAt: at(sec),
	}
}

func TestDirectionBetter(t *testing.T) {
	assert.True(t, LowerIsBetter.Better(0.1, 0.2))
	assert.False(t, LowerIsBetter.Better(0.2, 0.2))
	assert.True(t, HigherIsBetter.Better(0.9, 0.8))
	assert.False(t, HigherIsBetter.Better(0.8, 0.8))
	assert.Equal(t, "lower_is_better", LowerIsBetter.String())
	assert.Equal(t, "higher_is_better", HigherIsBetter.String())
}

func TestImprove(t *testing.T) {
	tests := []struct {
		name         string
		dir          Direction
		score        float64
		sec          int
		submissionID int
		wantChanged  bool
		wantScore    float64
		wantAt       time.Time
	}{
		{name: "strictly better lower", dir: LowerIsBetter, score: 0.15, sec: 30, submissionID: 3, wantChanged: true, wantScore: 0.15, wantAt: at(30)},
		{name: "worse lower", dir: LowerIsBetter, score: 0.30, sec: 30, submissionID: 3, wantChanged: false, wantScore: 0.25, wantAt: at(10)},
		{name: "equal later", dir: LowerIsBetter, score: 0.25, sec: 30, submissionID: 3, wantChanged: false, wantScore: 0.25, wantAt: at(10)},
		{name: "equal earlier", dir: LowerIsBetter, score: 0.25, sec: 5, submissionID: 3, wantChanged: true, wantScore: 0.25, wantAt: at(5)},
		{name: "strictly better higher", dir: HigherIsBetter, score: 0.30, sec: 30, submissionID: 3, wantChanged: true, wantScore: 0.30, wantAt: at(30)},
		{name: "worse higher", dir: HigherIsBetter, score: 0.15, sec: 30, submissionID: 3, wantChanged: false, wantScore: 0.25, wantAt: at(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entry(7, 0.25, 10)
			changed := Improve(e, tt.score, at(tt.sec), tt.submissionID, tt.dir)
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantScore, e.BestScore)
			assert.True(t, tt.wantAt.Equal(e.LastImprovementAt), "achievement time = %v", e.LastImprovementAt)
		})
	}
}

func TestImprove_OrderIndependent(t *testing.T) {
	type scored struct {
		score float64
		sec   int
		id    int
	}
	updates := []scored{{0.40, 1, 1}, {0.22, 2, 2}, {0.31, 3, 3}, {0.22, 4, 4}, {0.50, 5, 5}}

	want := &models.LeaderboardEntry{BestScore: updates[0].score, LastImprovementAt: at(updates[0].sec), BestSubmissionID: updates[0].id}
	for _, u := range updates[1:] {
		Improve(want, u.score, at(u.sec), u.id, LowerIsBetter)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		perm := rng.Perm(len(updates))
		first := updates[perm[0]]
		got := &models.LeaderboardEntry{BestScore: first.score, LastImprovementAt: at(first.sec), BestSubmissionID: first.id}
		for _, idx := range perm[1:] {
			u := updates[idx]
			Improve(got, u.score, at(u.sec), u.id, LowerIsBetter)
		}
		require.Equal(t, want.BestScore, got.BestScore)
		require.True(t, want.LastImprovementAt.Equal(got.LastImprovementAt))
		require.Equal(t, 2, got.BestSubmissionID)
	}
}

func TestAssign_ExampleScenario(t *testing.T) {
	a := entry(1, 0.25, 10)
	b := entry(2, 0.20, 20)
	entries := []*models.LeaderboardEntry{a, b}

	changes := Assign(entries, LowerIsBetter)
	require.Len(t, changes, 2)
	assert.Equal(t, 2, entries[0].ParticipantID)
	assert.Equal(t, 1, b.Rank)
	assert.Equal(t, 2, a.Rank)

	Improve(a, 0.15, at(30), 300, LowerIsBetter)
	changes = Assign(entries, LowerIsBetter)
	assert.Equal(t, 1, a.Rank)
	assert.Equal(t, 2, b.Rank)
	assert.ElementsMatch(t, []RankChange{
		{ParticipantID: 1, OldRank: 2, NewRank: 1},
		{ParticipantID: 2, OldRank: 1, NewRank: 2},
	}, changes)
	require.NoError(t, Verify(entries, LowerIsBetter))
}

func TestAssign_TieBreaks(t *testing.T) {
	entries := []*models.LeaderboardEntry{
		entry(5, 0.9, 50),
		entry(3, 0.9, 40),
		entry(4, 0.9, 40),
		entry(9, 0.95, 90),
	}

	Assign(entries, HigherIsBetter)

	var order []int
	for _, e := range entries {
		order = append(order, e.ParticipantID)
	}
	assert.Equal(t, []int{9, 3, 4, 5}, order)
	require.NoError(t, Verify(entries, HigherIsBetter))
}

func TestAssign_DenseForRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := make([]*models.LeaderboardEntry, 200)
	for i := range entries {
		entries[i] = entry(i+1, float64(rng.Intn(20))/10, rng.Intn(100))
		entries[i].Rank = rng.Intn(300)
	}

	Assign(entries, LowerIsBetter)

	require.NoError(t, Verify(entries, LowerIsBetter))
	seen := make(map[int]bool)
	for _, e := range entries {
		assert.False(t, seen[e.Rank], "duplicate rank %d", e.Rank)
		seen[e.Rank] = true
	}
	assert.Len(t, seen, 200)
}

func TestAssign_NoChangesWhenStable(t *testing.T) {
	entries := []*models.LeaderboardEntry{entry(1, 0.1, 1), entry(2, 0.2, 2)}
	Assign(entries, LowerIsBetter)
	assert.Empty(t, Assign(entries, LowerIsBetter))
}

func TestVerify_DetectsGaps(t *testing.T) {
	a := entry(1, 0.1, 1)
	a.Rank = 1
	b := entry(2, 0.2, 2)
	b.Rank = 3
	assert.Error(t, Verify([]*models.LeaderboardEntry{a, b}, LowerIsBetter))

	b.Rank = 1
	assert.Error(t, Verify([]*models.LeaderboardEntry{a, b}, LowerIsBetter))
}
