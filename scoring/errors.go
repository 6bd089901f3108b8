package scoring

import "fmt"

// ErrorCode classifies why a file could not be scored.
type ErrorCode string

const (
	CodeMalformedPredictions ErrorCode = "malformed_predictions"
	CodeMissingRows          ErrorCode = "missing_rows"
	CodeDuplicateKey         ErrorCode = "duplicate_key"
	CodeGroundTruthMismatch  ErrorCode = "ground_truth_mismatch"
	CodeUnsupportedFormat    ErrorCode = "unsupported_format"
	CodeInvalidMetric        ErrorCode = "invalid_metric"
)

// Error is a participant-visible scoring failure. Message is safe to show to users.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("scoring error (%s): %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsGroundTruthProblem reports whether the failure lies with the reference data rather
// than the participant's file.
func (e *Error) IsGroundTruthProblem() bool {
	return e.Code == CodeGroundTruthMismatch || e.Code == CodeInvalidMetric
}
