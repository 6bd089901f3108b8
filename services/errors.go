package services

import (
	"errors"
	"fmt"
)

// Errors shared by the services and the HTTP mapping.
var (
	ErrNotFound         = errors.New("requested resource not found")
	ErrValidationFailed = errors.New("validation failed")

	// Upload rejections. Nothing is stored or persisted when one of these is returned.
	ErrFileTooLarge         = errors.New("file exceeds the maximum allowed size")
	ErrEmptyFile            = errors.New("file is empty")
	ErrUnsupportedFormat    = errors.New("file format is not accepted by this competition")
	ErrQuotaExceeded        = errors.New("daily submission limit reached")
	ErrCompetitionNotActive = errors.New("competition is not accepting submissions")

	// Auth
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")

	// Entities
	ErrCompetitionNotFound = errors.New("competition not found")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrEntryNotFound       = errors.New("participant has no leaderboard entry")
	ErrParticipantNotFound = errors.New("participant not found")

	// Competition lifecycle
	ErrCompetitionSlugConflict            = errors.New("competition slug already taken")
	ErrCompetitionInvalidDateRange        = errors.New("competition end must be after start")
	ErrCompetitionInvalidStatus           = errors.New("invalid competition status")
	ErrCompetitionInvalidStatusTransition = errors.New("invalid competition status transition")
	ErrCompetitionLocked                  = errors.New("field cannot be changed once the competition has started")
	ErrCompetitionArchived                = errors.New("completed competitions cannot be modified")
	ErrInvalidMetric                      = errors.New("unknown metric")
	ErrInvalidScoringPolicy               = errors.New("invalid scoring policy")
	ErrGroundTruthMissing                 = errors.New("ground truth has not been uploaded")
	ErrGroundTruthInvalid                 = errors.New("ground truth file is not usable")

	// Causes attached to cancelled scoring contexts.
	ErrScoringTimeout     = errors.New("scoring timed out")
	ErrCompetitionClosed  = errors.New("competition closed")
	ErrWorkerShuttingDown = errors.New("scoring worker shutting down")
)

// SystemError marks a storage or database failure. Operations that fail with one are
// retried; once retries are exhausted the detail is logged and never shown to users.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error {
	return e.Err
}

func systemError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SystemError
	if errors.As(err, &se) {
		return err
	}
	return &SystemError{Op: op, Err: err}
}

func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}
