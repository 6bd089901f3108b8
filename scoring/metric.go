package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/Dosada05/palanteer/ranking"
)

// Metric compares predictions with ground truth row by row.
type Metric interface {
	Name() string
	Direction() ranking.Direction
	// Numeric metrics require both columns to parse as finite floats.
	Numeric() bool
	newAccumulator() accumulator
}

type value struct {
	raw string
	num float64
}

// accumulator folds aligned rows into a score. Implementations keep running means
// instead of raw sums so large files cannot overflow the intermediate state.
type accumulator interface {
	add(truth, pred value)
	// penalize accounts for a ground-truth row with no prediction.
	penalize(truth value, penalty float64)
	result() (float64, error)
}

var metrics = map[string]Metric{
	"rmse":     meanErrorMetric{name: "rmse", squared: true, root: true},
	"mse":      meanErrorMetric{name: "mse", squared: true},
	"mae":      meanErrorMetric{name: "mae"},
	"accuracy": accuracyMetric{},
	"r2":       r2Metric{},
}

// LookupMetric resolves a metric by its configured name (case-insensitive).
func LookupMetric(name string) (Metric, error) {
	m, ok := metrics[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, newError(CodeInvalidMetric, "unknown metric %q", name)
	}
	return m, nil
}

// MetricNames lists the supported metric names in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type meanErrorMetric struct {
	name    string
	squared bool
	root    bool
}

func (m meanErrorMetric) Name() string                 { return m.name }
func (m meanErrorMetric) Direction() ranking.Direction { return ranking.LowerIsBetter }
func (m meanErrorMetric) Numeric() bool                { return true }

func (m meanErrorMetric) newAccumulator() accumulator {
	return &meanErrorAcc{squared: m.squared, root: m.root}
}

type meanErrorAcc struct {
	squared bool
	root    bool
	n       int64
	mean    float64
}

func (a *meanErrorAcc) observe(e float64) {
	if a.squared {
		e = e * e
	} else {
		e = math.Abs(e)
	}
	a.n++
	a.mean += (e - a.mean) / float64(a.n)
}

func (a *meanErrorAcc) add(truth, pred value) { a.observe(pred.num - truth.num) }

func (a *meanErrorAcc) penalize(_ value, penalty float64) { a.observe(penalty) }

func (a *meanErrorAcc) result() (float64, error) {
	if a.n == 0 {
		return 0, newError(CodeGroundTruthMismatch, "no rows to score")
	}
	if a.root {
		return math.Sqrt(a.mean), nil
	}
	return a.mean, nil
}

type accuracyMetric struct{}

func (accuracyMetric) Name() string                 { return "accuracy" }
func (accuracyMetric) Direction() ranking.Direction { return ranking.HigherIsBetter }
func (accuracyMetric) Numeric() bool                { return false }
func (accuracyMetric) newAccumulator() accumulator  { return &accuracyAcc{} }

type accuracyAcc struct {
	n       int64
	correct int64
}

func (a *accuracyAcc) add(truth, pred value) {
	a.n++
	if strings.TrimSpace(truth.raw) == strings.TrimSpace(pred.raw) {
		a.correct++
	}
}

func (a *accuracyAcc) penalize(value, float64) { a.n++ }

func (a *accuracyAcc) result() (float64, error) {
	if a.n == 0 {
		return 0, newError(CodeGroundTruthMismatch, "no rows to score")
	}
	return float64(a.correct) / float64(a.n), nil
}

type r2Metric struct{}

func (r2Metric) Name() string                 { return "r2" }
func (r2Metric) Direction() ranking.Direction { return ranking.HigherIsBetter }
func (r2Metric) Numeric() bool                { return true }
func (r2Metric) newAccumulator() accumulator  { return &r2Acc{} }

// r2Acc tracks the truth mean and its sum of squared deviations (Welford) together with
// the running mean of squared residuals.
type r2Acc struct {
	n       int64
	mean    float64
	m2      float64
	meanRes float64
}

func (a *r2Acc) observe(truth, residual float64) {
	a.n++
	delta := truth - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (truth - a.mean)
	a.meanRes += (residual*residual - a.meanRes) / float64(a.n)
}

func (a *r2Acc) add(truth, pred value) { a.observe(truth.num, pred.num-truth.num) }

func (a *r2Acc) penalize(truth value, penalty float64) { a.observe(truth.num, penalty) }

func (a *r2Acc) result() (float64, error) {
	if a.n == 0 {
		return 0, newError(CodeGroundTruthMismatch, "no rows to score")
	}
	variance := a.m2 / float64(a.n)
	if variance == 0 {
		return 0, newError(CodeInvalidMetric, "r2 is undefined for a constant ground truth")
	}
	return 1 - a.meanRes/variance, nil
}
