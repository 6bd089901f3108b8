package models

import "time"

type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "pending"
	SubmissionScored  SubmissionStatus = "scored"
	SubmissionError   SubmissionStatus = "error"
)

// SubmissionErrorReason is the machine-readable cause stored with an errored submission.
type SubmissionErrorReason string

const (
	ReasonInvalidPredictions  SubmissionErrorReason = "InvalidPredictions"
	ReasonGroundTruthMismatch SubmissionErrorReason = "GroundTruthMismatch"
	ReasonScoringTimeout      SubmissionErrorReason = "ScoringTimeout"
	ReasonCompetitionClosed   SubmissionErrorReason = "CompetitionClosed"
	ReasonInternalError       SubmissionErrorReason = "InternalError"
)

type Submission struct {
	ID            int                    `json:"id" db:"id"`
	CompetitionID int                    `json:"competition_id" db:"competition_id"`
	ParticipantID int                    `json:"participant_id" db:"participant_id"`
	FileKey       string                 `json:"-" db:"file_key"`
	FileName      string                 `json:"file_name" db:"file_name"`
	FileSize      int64                  `json:"file_size" db:"file_size"`
	ContentDigest string                 `json:"content_digest" db:"content_digest"`
	Description   *string                `json:"description,omitempty" db:"description"`
	Score         *float64               `json:"score,omitempty" db:"score"`
	Status        SubmissionStatus       `json:"status" db:"status"`
	ErrorReason   *SubmissionErrorReason `json:"error_reason,omitempty" db:"error_reason"`
	ErrorMessage  *string                `json:"error_message,omitempty" db:"error_message"`
	SubmittedAt   time.Time              `json:"submitted_at" db:"submitted_at"`
	ScoredAt      *time.Time             `json:"scored_at,omitempty" db:"scored_at"`
}
