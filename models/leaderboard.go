package models

import "time"

// LeaderboardEntry is derived state: one row per (competition, participant).
type LeaderboardEntry struct {
	ID                int       `json:"-" db:"id"`
	CompetitionID     int       `json:"competition_id" db:"competition_id"`
	ParticipantID     int       `json:"participant_id" db:"participant_id"`
	BestScore         float64   `json:"best_score" db:"best_score"`
	BestSubmissionID  int       `json:"best_submission_id" db:"best_submission_id"`
	SubmissionCount   int       `json:"submission_count" db:"submission_count"`
	Rank              int       `json:"rank" db:"rank"`
	LastImprovementAt time.Time `json:"last_improvement_at" db:"last_improvement_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`

	DisplayName string `json:"display_name" db:"-"`
}

type LeaderboardStats struct {
	TotalParticipants int      `json:"total_participants"`
	TotalSubmissions  int      `json:"total_submissions"`
	TopScore          *float64 `json:"top_score,omitempty"`
	MeanBestScore     *float64 `json:"mean_best_score,omitempty"`
}
