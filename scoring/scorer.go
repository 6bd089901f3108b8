// Package scoring evaluates prediction files against a competition's ground truth.
package scoring

import (
	"context"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Dosada05/palanteer/models"
)

type MissingRowPolicy string

const (
	MissingPenalize MissingRowPolicy = "penalize"
	MissingReject   MissingRowPolicy = "reject"
)

type DuplicatePolicy string

const (
	DuplicateLastWriteWins DuplicatePolicy = "last_write_wins"
	DuplicateReject        DuplicatePolicy = "reject"
)

// Policy configures tolerance for imperfect prediction files.
type Policy struct {
	MissingRows      MissingRowPolicy
	MissingPenalty   float64
	MaxMalformedRate float64
	DuplicateKeys    DuplicatePolicy
}

// DefaultPolicy rejects missing rows and duplicate keys and tolerates up to 1% unreadable rows.
func DefaultPolicy() Policy {
	return Policy{
		MissingRows:      MissingReject,
		MissingPenalty:   1,
		MaxMalformedRate: 0.01,
		DuplicateKeys:    DuplicateReject,
	}
}

// PolicyFrom overlays a stored competition policy on top of defaults.
func PolicyFrom(defaults Policy, p *models.ScoringPolicy) (Policy, error) {
	if p == nil {
		return defaults, nil
	}
	out := defaults
	switch MissingRowPolicy(p.MissingRows) {
	case "":
	case MissingPenalize, MissingReject:
		out.MissingRows = MissingRowPolicy(p.MissingRows)
	default:
		return Policy{}, newError(CodeInvalidMetric, "unknown missing row policy %q", p.MissingRows)
	}
	switch DuplicatePolicy(p.DuplicateKeys) {
	case "":
	case DuplicateLastWriteWins, DuplicateReject:
		out.DuplicateKeys = DuplicatePolicy(p.DuplicateKeys)
	default:
		return Policy{}, newError(CodeInvalidMetric, "unknown duplicate key policy %q", p.DuplicateKeys)
	}
	// Nil leaves the default in place; an explicit zero is a real setting.
	if p.MissingPenalty != nil {
		out.MissingPenalty = *p.MissingPenalty
	}
	if p.MaxMalformedRate != nil {
		out.MaxMalformedRate = *p.MaxMalformedRate
	}
	if out.MaxMalformedRate < 0 || out.MaxMalformedRate > 1 {
		return Policy{}, newError(CodeInvalidMetric, "max malformed rate must be within [0, 1], got %g", out.MaxMalformedRate)
	}
	if math.IsNaN(out.MissingPenalty) || math.IsInf(out.MissingPenalty, 0) {
		return Policy{}, newError(CodeInvalidMetric, "missing penalty must be finite")
	}
	return out, nil
}

// Spec is everything needed to score one file.
type Spec struct {
	Metric       Metric
	KeyColumn    string
	TargetColumn string
	Policy       Policy
}

// Result carries the score and row accounting for one scored file.
type Result struct {
	Score      float64 `json:"score"`
	Matched    int     `json:"matched"`
	Missing    int     `json:"missing"`
	Malformed  int     `json:"malformed"`
	Duplicates int     `json:"duplicates"`
	Extra      int     `json:"extra"`
}

// ctxCheckInterval is how many rows are processed between cancellation checks.
const ctxCheckInterval = 1024

type groundTruth struct {
	keys   []string
	values map[string]value
}

// Score parses both files, aligns predictions with the ground truth by key and computes
// the metric. Rows are visited in ground-truth file order, so equal inputs always give
// bit-identical scores.
func Score(ctx context.Context, truthSrc, predSrc Source, spec Spec) (*Result, error) {
	if spec.Metric == nil {
		return nil, newError(CodeInvalidMetric, "no metric configured")
	}
	truth, err := loadGroundTruth(ctx, truthSrc, spec)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	preds, err := loadPredictions(ctx, predSrc, spec, truth, res)
	if err != nil {
		return nil, err
	}

	acc := spec.Metric.newAccumulator()
	for i, key := range truth.keys {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pred, ok := preds[key]
		if !ok {
			res.Missing++
			if spec.Policy.MissingRows == MissingPenalize {
				acc.penalize(truth.values[key], spec.Policy.MissingPenalty)
			}
			continue
		}
		res.Matched++
		acc.add(truth.values[key], pred)
	}

	if res.Missing > 0 && spec.Policy.MissingRows != MissingPenalize {
		return nil, newError(CodeMissingRows, "%d of %d expected rows have no prediction", res.Missing, len(truth.keys))
	}

	score, err := acc.result()
	if err != nil {
		return nil, err
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, newError(CodeMalformedPredictions, "score is not a finite number")
	}
	res.Score = score
	return res, nil
}

func loadGroundTruth(ctx context.Context, src Source, spec Spec) (*groundTruth, error) {
	rr, err := openRows(src)
	if err != nil {
		return nil, asGroundTruthError(err)
	}
	defer rr.Close()

	h, err := readHeader(rr)
	if err != nil {
		return nil, newError(CodeGroundTruthMismatch, "ground truth has no header row")
	}
	keyIdx, ok := h.index(spec.KeyColumn)
	if !ok {
		return nil, newError(CodeGroundTruthMismatch, "ground truth has no %q column", spec.KeyColumn)
	}
	targetIdx, ok := h.index(spec.TargetColumn)
	if !ok {
		return nil, newError(CodeGroundTruthMismatch, "ground truth has no %q column", spec.TargetColumn)
	}

	gt := &groundTruth{values: make(map[string]value)}
	for line := 1; ; line++ {
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newError(CodeGroundTruthMismatch, "ground truth row %d is unreadable", line)
		}
		if isBlank(record) {
			continue
		}
		v, key, ok := parseRow(record, keyIdx, targetIdx, spec.Metric.Numeric())
		if !ok {
			return nil, newError(CodeGroundTruthMismatch, "ground truth row %d is malformed", line)
		}
		if _, dup := gt.values[key]; dup {
			return nil, newError(CodeGroundTruthMismatch, "ground truth key %q appears more than once", key)
		}
		gt.keys = append(gt.keys, key)
		gt.values[key] = v
	}
	if len(gt.keys) == 0 {
		return nil, newError(CodeGroundTruthMismatch, "ground truth has no rows")
	}
	return gt, nil
}

func loadPredictions(ctx context.Context, src Source, spec Spec, truth *groundTruth, res *Result) (map[string]value, error) {
	rr, err := openRows(src)
	if err != nil {
		return nil, err
	}
	defer rr.Close()

	h, err := readHeader(rr)
	if err != nil {
		return nil, newError(CodeMalformedPredictions, "prediction file has no header row")
	}
	keyIdx, ok := h.index(spec.KeyColumn)
	if !ok {
		return nil, newError(CodeMalformedPredictions, "prediction file has no %q column", spec.KeyColumn)
	}
	targetIdx, ok := h.index(spec.TargetColumn)
	if !ok {
		return nil, newError(CodeMalformedPredictions, "prediction file has no %q column", spec.TargetColumn)
	}

	preds := make(map[string]value, len(truth.keys))
	total := 0
	for line := 1; ; line++ {
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, errBadRow) {
			return nil, newError(CodeMalformedPredictions, "prediction file cannot be read: %v", err)
		}
		if err == nil && isBlank(record) {
			continue
		}
		total++
		if err != nil {
			res.Malformed++
			continue
		}
		v, key, ok := parseRow(record, keyIdx, targetIdx, spec.Metric.Numeric())
		if !ok {
			res.Malformed++
			continue
		}
		if _, expected := truth.values[key]; !expected {
			res.Extra++
			continue
		}
		if _, dup := preds[key]; dup {
			if spec.Policy.DuplicateKeys != DuplicateLastWriteWins {
				return nil, newError(CodeDuplicateKey, "key %q is predicted more than once", key)
			}
			res.Duplicates++
		}
		preds[key] = v
	}

	if total == 0 {
		return nil, newError(CodeMalformedPredictions, "prediction file has no rows")
	}
	if rate := float64(res.Malformed) / float64(total); rate > spec.Policy.MaxMalformedRate {
		return nil, newError(CodeMalformedPredictions, "%d of %d rows are malformed (%.2f%% allowed)",
			res.Malformed, total, spec.Policy.MaxMalformedRate*100)
	}
	return preds, nil
}

func parseRow(record []string, keyIdx, targetIdx int, numeric bool) (value, string, bool) {
	if keyIdx >= len(record) || targetIdx >= len(record) {
		return value{}, "", false
	}
	key := strings.TrimSpace(record[keyIdx])
	raw := strings.TrimSpace(record[targetIdx])
	if key == "" || raw == "" {
		return value{}, "", false
	}
	v := value{raw: raw}
	if numeric {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return value{}, "", false
		}
		v.num = f
	}
	return v, key, true
}

func asGroundTruthError(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return newError(CodeGroundTruthMismatch, "ground truth: %s", se.Message)
	}
	return err
}
