// Package ranking orders leaderboard entries. It holds no state and does no I/O;
// callers serialize writes per competition.
package ranking

import (
	"fmt"
	"sort"
	"time"

	"github.com/Dosada05/palanteer/models"
)

// Direction says which way a metric improves.
type Direction int

const (
	LowerIsBetter Direction = iota
	HigherIsBetter
)

func (d Direction) String() string {
	if d == HigherIsBetter {
		return "higher_is_better"
	}
	return "lower_is_better"
}

// Better reports whether a is strictly better than b.
func (d Direction) Better(a, b float64) bool {
	if d == HigherIsBetter {
		return a > b
	}
	return a < b
}

// RankChange describes a participant whose published rank moved.
// OldRank is 0 for a participant entering the leaderboard.
type RankChange struct {
	ParticipantID int
	OldRank       int
	NewRank       int
}

// Improve folds a newly scored submission into an entry. The best score is replaced only
// when strictly better; an equal score achieved earlier moves the achievement time back,
// so the outcome does not depend on the order in which scores arrive.
func Improve(entry *models.LeaderboardEntry, score float64, achievedAt time.Time, submissionID int, dir Direction) bool {
	switch {
	case dir.Better(score, entry.BestScore):
	case score == entry.BestScore && achievedAt.Before(entry.LastImprovementAt):
	case score == entry.BestScore && achievedAt.Equal(entry.LastImprovementAt) && submissionID < entry.BestSubmissionID:
	default:
		return false
	}
	entry.BestScore = score
	entry.LastImprovementAt = achievedAt
	entry.BestSubmissionID = submissionID
	return true
}

// Less orders entries best first: score per direction, then earliest achievement,
// then lowest participant id.
func Less(a, b *models.LeaderboardEntry, dir Direction) bool {
	if a.BestScore != b.BestScore {
		return dir.Better(a.BestScore, b.BestScore)
	}
	if !a.LastImprovementAt.Equal(b.LastImprovementAt) {
		return a.LastImprovementAt.Before(b.LastImprovementAt)
	}
	return a.ParticipantID < b.ParticipantID
}

// Assign sorts entries in place and gives them dense ranks 1..N.
// It returns the entries whose rank differs from what they carried in.
func Assign(entries []*models.LeaderboardEntry, dir Direction) []RankChange {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(entries[i], entries[j], dir)
	})

	var changes []RankChange
	for i, e := range entries {
		newRank := i + 1
		if e.Rank != newRank {
			changes = append(changes, RankChange{
				ParticipantID: e.ParticipantID,
				OldRank:       e.Rank,
				NewRank:       newRank,
			})
			e.Rank = newRank
		}
	}
	return changes
}

// Verify checks that entries, in the given order, carry ranks 1..N with no gaps or
// duplicates and agree with the ordering.
func Verify(entries []*models.LeaderboardEntry, dir Direction) error {
	for i, e := range entries {
		if e.Rank != i+1 {
			return fmt.Errorf("entry for participant %d has rank %d at position %d", e.ParticipantID, e.Rank, i+1)
		}
		if i > 0 && !Less(entries[i-1], e, dir) {
			return fmt.Errorf("entries for participants %d and %d are out of order", entries[i-1].ParticipantID, e.ParticipantID)
		}
	}
	return nil
}
