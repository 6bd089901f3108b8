package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/palanteer/live"
	"github.com/Dosada05/palanteer/metrics"
	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/repositories"
	"github.com/Dosada05/palanteer/scoring"
	"github.com/Dosada05/palanteer/storage"
)

const internalErrorMessage = "scoring failed because of an internal error; please resubmit later"

// SubmissionNotifier tells a submitter that scoring finished.
type SubmissionNotifier interface {
	PublishSubmissionUpdate(participantID int, payload live.SubmissionUpdatedPayload)
}

type noopSubmissionNotifier struct{}

func (noopSubmissionNotifier) PublishSubmissionUpdate(int, live.SubmissionUpdatedPayload) {}

type ScoringJob struct {
	SubmissionID  int
	CompetitionID int
}

type ScoringWorkerConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds fetching and scoring one submission.
	Timeout time.Duration
	// Pending submissions older than SweepGrace are re-enqueued every SweepInterval.
	SweepInterval time.Duration
	SweepGrace    time.Duration
	// MaxFileBytes caps how much of a stored file is read into memory.
	MaxFileBytes int64
	Retry        RetryPolicy
}

// ScoringPolicies resolves scorer defaults per metric name.
type ScoringPolicies interface {
	DefaultsFor(metric string) scoring.Policy
}

type staticPolicies scoring.Policy

func (p staticPolicies) DefaultsFor(string) scoring.Policy { return scoring.Policy(p) }

// ScoringWorker scores pending submissions asynchronously on a fixed pool of goroutines.
type ScoringWorker struct {
	cfg          ScoringWorkerConfig
	competitions repositories.CompetitionRepository
	submissions  repositories.SubmissionRepository
	store        storage.FileStore
	engine       *RankingEngine
	policies     ScoringPolicies
	notifier     SubmissionNotifier
	logger       *slog.Logger
	now          func() time.Time

	queue chan ScoringJob
	wg    sync.WaitGroup

	mu       sync.Mutex
	queued   map[int]struct{}
	inflight map[int]map[int]context.CancelCauseFunc // competition -> submission -> cancel
}

func NewScoringWorker(
	cfg ScoringWorkerConfig,
	competitions repositories.CompetitionRepository,
	submissions repositories.SubmissionRepository,
	store storage.FileStore,
	engine *RankingEngine,
	policies ScoringPolicies,
	notifier SubmissionNotifier,
	logger *slog.Logger,
) *ScoringWorker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.SweepGrace <= 0 {
		cfg.SweepGrace = time.Minute
	}
	if policies == nil {
		policies = staticPolicies(scoring.DefaultPolicy())
	}
	if notifier == nil {
		notifier = noopSubmissionNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoringWorker{
		cfg:          cfg,
		competitions: competitions,
		submissions:  submissions,
		store:        store,
		engine:       engine,
		policies:     policies,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
		queue:        make(chan ScoringJob, cfg.QueueSize),
		queued:       make(map[int]struct{}),
		inflight:     make(map[int]map[int]context.CancelCauseFunc),
	}
}

// Start launches the workers and the sweeper. They stop when ctx is cancelled; Wait
// blocks until they have.
func (w *ScoringWorker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runWorker(ctx)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runSweeper(ctx)
	}()
	w.logger.Info("Scoring worker started", slog.Int("workers", w.cfg.Workers), slog.Int("queue_size", w.cfg.QueueSize))
}

func (w *ScoringWorker) Wait() {
	w.wg.Wait()
}

// Enqueue hands a job to the pool without blocking. It returns false when the queue is
// full or the submission is already queued; the sweeper picks up what was dropped.
func (w *ScoringWorker) Enqueue(job ScoringJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.queued[job.SubmissionID]; dup {
		return false
	}
	select {
	case w.queue <- job:
		w.queued[job.SubmissionID] = struct{}{}
		metrics.ScoringQueueDepth.Set(float64(len(w.queue)))
		return true
	default:
		w.logger.Warn("Scoring queue full, leaving submission for the sweeper", slog.Int("submission_id", job.SubmissionID))
		return false
	}
}

func (w *ScoringWorker) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.queue:
			w.mu.Lock()
			delete(w.queued, job.SubmissionID)
			metrics.ScoringQueueDepth.Set(float64(len(w.queue)))
			w.mu.Unlock()

			if err := w.Process(ctx, job); err != nil && ctx.Err() == nil {
				w.logger.Error("Scoring job failed", slog.Int("submission_id", job.SubmissionID), slog.Any("error", err))
			}
		}
	}
}

func (w *ScoringWorker) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep re-enqueues pending submissions that have waited longer than the grace period.
func (w *ScoringWorker) Sweep(ctx context.Context) int {
	cutoff := w.now().Add(-w.cfg.SweepGrace)
	pending, err := w.submissions.ListPendingBefore(ctx, cutoff, w.cfg.QueueSize)
	if err != nil {
		w.logger.Error("Failed to list stale pending submissions", slog.Any("error", err))
		return 0
	}
	enqueued := 0
	for _, s := range pending {
		if w.isInflight(s.CompetitionID, s.ID) {
			continue
		}
		if w.Enqueue(ScoringJob{SubmissionID: s.ID, CompetitionID: s.CompetitionID}) {
			enqueued++
		}
	}
	if enqueued > 0 {
		w.logger.Info("Re-enqueued stale pending submissions", slog.Int("count", enqueued))
	}
	return enqueued
}

// CancelCompetition aborts in-flight jobs of the competition and fails its pending
// submissions with reason CompetitionClosed.
func (w *ScoringWorker) CancelCompetition(ctx context.Context, competitionID int) error {
	w.mu.Lock()
	for _, cancel := range w.inflight[competitionID] {
		cancel(ErrCompetitionClosed)
	}
	w.mu.Unlock()

	failed, err := w.submissions.FailPendingByCompetition(ctx, nil, competitionID,
		models.ReasonCompetitionClosed, "the competition closed before this submission was scored", w.now().UTC())
	if err != nil {
		return systemError("fail pending submissions", err)
	}
	if failed > 0 {
		metrics.ScoringJobs.WithLabelValues(string(models.SubmissionError), string(models.ReasonCompetitionClosed)).Add(float64(failed))
		w.logger.Info("Failed pending submissions of closed competition",
			slog.Int("competition_id", competitionID), slog.Int64("count", failed))
	}
	return nil
}

func (w *ScoringWorker) isInflight(competitionID, submissionID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inflight[competitionID][submissionID]
	return ok
}

func (w *ScoringWorker) track(job ScoringJob, cancel context.CancelCauseFunc) func() {
	w.mu.Lock()
	if w.inflight[job.CompetitionID] == nil {
		w.inflight[job.CompetitionID] = make(map[int]context.CancelCauseFunc)
	}
	w.inflight[job.CompetitionID][job.SubmissionID] = cancel
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.inflight[job.CompetitionID], job.SubmissionID)
		if len(w.inflight[job.CompetitionID]) == 0 {
			delete(w.inflight, job.CompetitionID)
		}
		w.mu.Unlock()
	}
}

// Process scores one submission synchronously. A submission that is no longer pending
// is skipped, so duplicate deliveries are harmless.
func (w *ScoringWorker) Process(ctx context.Context, job ScoringJob) (err error) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	untrack := w.track(job, cancel)
	defer untrack()

	tracer := otel.Tracer("scoring-worker")
	jobCtx, span := tracer.Start(jobCtx, "ScoringWorker.Process", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.Int("submission.id", job.SubmissionID),
		attribute.Int("competition.id", job.CompetitionID),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	var sub *models.Submission
	err = w.cfg.Retry.Do(jobCtx, w.logger, "load_submission", func(ctx context.Context) error {
		var loadErr error
		sub, loadErr = w.submissions.GetByID(ctx, nil, job.SubmissionID)
		if loadErr != nil && !errors.Is(loadErr, repositories.ErrSubmissionNotFound) {
			return systemError("load submission", loadErr)
		}
		return loadErr
	})
	if errors.Is(err, repositories.ErrSubmissionNotFound) {
		// Removed by moderation while queued.
		return nil
	}
	if err != nil {
		return w.abort(ctx, jobCtx, job.SubmissionID, err)
	}
	if sub.Status != models.SubmissionPending {
		return nil
	}

	var competition *models.Competition
	err = w.cfg.Retry.Do(jobCtx, w.logger, "load_competition", func(ctx context.Context) error {
		var loadErr error
		competition, loadErr = w.competitions.GetByID(ctx, nil, sub.CompetitionID)
		if loadErr != nil {
			return systemError("load competition", loadErr)
		}
		return nil
	})
	if err != nil {
		return w.abort(ctx, jobCtx, sub.ID, err)
	}
	if competition.IsClosed() {
		return w.fail(ctx, sub, models.ReasonCompetitionClosed, "the competition closed before this submission was scored")
	}
	span.SetAttributes(attribute.String("competition.metric", competition.MetricType))

	spec, err := w.specFor(competition)
	if err != nil {
		return w.fail(ctx, sub, models.ReasonGroundTruthMismatch, err.Error())
	}
	if competition.GroundTruthKey == nil || *competition.GroundTruthKey == "" {
		return w.fail(ctx, sub, models.ReasonGroundTruthMismatch, ErrGroundTruthMissing.Error())
	}

	scoreCtx, cancelTimeout := context.WithTimeoutCause(jobCtx, w.cfg.Timeout, ErrScoringTimeout)
	defer cancelTimeout()

	started := w.now()
	var result *scoring.Result
	truthSrc, predSrc, err := w.fetchSources(scoreCtx, *competition.GroundTruthKey, sub)
	if err == nil {
		result, err = scoring.Score(scoreCtx, truthSrc, predSrc, spec)
	}
	metrics.ScoringDuration.WithLabelValues(spec.Metric.Name()).Observe(time.Since(started).Seconds())
	if err != nil {
		return w.handleScoringFailure(ctx, jobCtx, scoreCtx, sub, err)
	}

	var outcome *ApplyOutcome
	err = w.cfg.Retry.Do(jobCtx, w.logger, "apply_score", func(ctx context.Context) error {
		var applyErr error
		outcome, applyErr = w.engine.ApplyScore(ctx, sub.ID, result.Score)
		return applyErr
	})
	switch {
	case errors.Is(err, repositories.ErrSubmissionNotPending), errors.Is(err, ErrSubmissionNotFound):
		return nil
	case err != nil:
		return w.abort(ctx, jobCtx, sub.ID, err)
	}

	metrics.ScoringJobs.WithLabelValues(string(models.SubmissionScored), "").Inc()
	w.logger.Info("Submission scored",
		slog.Int("submission_id", sub.ID),
		slog.Int("competition_id", sub.CompetitionID),
		slog.Float64("score", result.Score),
		slog.Bool("improved", outcome.Improved),
		slog.Int("matched", result.Matched),
		slog.Int("missing", result.Missing),
		slog.Int("malformed", result.Malformed))

	score := result.Score
	w.notifier.PublishSubmissionUpdate(sub.ParticipantID, live.SubmissionUpdatedPayload{
		CompetitionID: sub.CompetitionID,
		SubmissionID:  sub.ID,
		Status:        string(models.SubmissionScored),
		Score:         &score,
	})
	return nil
}

func (w *ScoringWorker) specFor(c *models.Competition) (scoring.Spec, error) {
	metric, err := scoring.LookupMetric(c.MetricType)
	if err != nil {
		return scoring.Spec{}, err
	}
	stored, err := c.GetScoringPolicy()
	if err != nil {
		return scoring.Spec{}, fmt.Errorf("%w: %v", ErrInvalidScoringPolicy, err)
	}
	policy, err := scoring.PolicyFrom(w.policies.DefaultsFor(metric.Name()), stored)
	if err != nil {
		return scoring.Spec{}, err
	}
	return scoring.Spec{Metric: metric, KeyColumn: c.KeyColumn, TargetColumn: c.TargetColumn, Policy: policy}, nil
}

// fetchSources downloads ground truth and predictions concurrently.
func (w *ScoringWorker) fetchSources(ctx context.Context, truthKey string, sub *models.Submission) (scoring.Source, scoring.Source, error) {
	var truth, preds scoring.Source
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := w.download(gctx, truthKey)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return ErrGroundTruthMissing
		}
		truth = scoring.Source{Name: truthKey, Data: data}
		return err
	})
	g.Go(func() error {
		data, err := w.download(gctx, sub.FileKey)
		preds = scoring.Source{Name: sub.FileName, Data: data}
		return err
	})
	if err := g.Wait(); err != nil {
		return scoring.Source{}, scoring.Source{}, err
	}
	return truth, preds, nil
}

func (w *ScoringWorker) download(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := w.cfg.Retry.Do(ctx, w.logger, "download", func(ctx context.Context) error {
		rc, err := w.store.Download(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) || ctx.Err() != nil {
				return err
			}
			return systemError("download "+key, err)
		}
		defer rc.Close()

		reader := io.Reader(rc)
		if w.cfg.MaxFileBytes > 0 {
			reader = io.LimitReader(rc, w.cfg.MaxFileBytes+1)
		}
		data, err = io.ReadAll(reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return systemError("read "+key, err)
		}
		if w.cfg.MaxFileBytes > 0 && int64(len(data)) > w.cfg.MaxFileBytes {
			return fmt.Errorf("%w: stored object %s exceeds %d bytes", ErrFileTooLarge, key, w.cfg.MaxFileBytes)
		}
		return nil
	})
	return data, err
}

func (w *ScoringWorker) handleScoringFailure(ctx, jobCtx, scoreCtx context.Context, sub *models.Submission, err error) error {
	var scoringErr *scoring.Error
	switch {
	case errors.Is(context.Cause(scoreCtx), ErrScoringTimeout):
		return w.fail(ctx, sub, models.ReasonScoringTimeout,
			fmt.Sprintf("scoring did not finish within %s", w.cfg.Timeout))
	case errors.Is(err, ErrGroundTruthMissing):
		return w.fail(ctx, sub, models.ReasonGroundTruthMismatch, ErrGroundTruthMissing.Error())
	case errors.As(err, &scoringErr):
		if scoringErr.IsGroundTruthProblem() {
			return w.fail(ctx, sub, models.ReasonGroundTruthMismatch, scoringErr.Message)
		}
		return w.fail(ctx, sub, models.ReasonInvalidPredictions, scoringErr.Message)
	case errors.Is(err, ErrFileTooLarge):
		return w.fail(ctx, sub, models.ReasonInvalidPredictions, err.Error())
	}
	return w.abort(ctx, jobCtx, sub.ID, err)
}

// abort handles failures that are not the submitter's fault: shutdown leaves the
// submission pending for the next run, closure and exhausted retries fail it.
func (w *ScoringWorker) abort(ctx, jobCtx context.Context, submissionID int, err error) error {
	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, ErrCompetitionClosed):
		return w.failByID(ctx, submissionID, models.ReasonCompetitionClosed, "the competition closed before this submission was scored")
	case ctx.Err() != nil:
		return ctx.Err()
	}
	w.logger.Error("Scoring aborted by system error", slog.Int("submission_id", submissionID), slog.Any("error", err))
	if failErr := w.failByID(ctx, submissionID, models.ReasonInternalError, internalErrorMessage); failErr != nil {
		return failErr
	}
	return err
}

func (w *ScoringWorker) fail(ctx context.Context, sub *models.Submission, reason models.SubmissionErrorReason, message string) error {
	if err := w.failByID(ctx, sub.ID, reason, message); err != nil {
		return err
	}
	w.notifier.PublishSubmissionUpdate(sub.ParticipantID, live.SubmissionUpdatedPayload{
		CompetitionID: sub.CompetitionID,
		SubmissionID:  sub.ID,
		Status:        string(models.SubmissionError),
		ErrorReason:   string(reason),
	})
	return nil
}

// failByID records the error outcome. It runs detached from job cancellation so a
// timed-out or closed job still persists its reason.
func (w *ScoringWorker) failByID(ctx context.Context, submissionID int, reason models.SubmissionErrorReason, message string) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := w.cfg.Retry.Do(persistCtx, w.logger, "mark_error", func(ctx context.Context) error {
		markErr := w.submissions.MarkError(ctx, nil, submissionID, reason, message, w.now().UTC())
		if markErr != nil && !errors.Is(markErr, repositories.ErrSubmissionNotPending) {
			return systemError("mark submission errored", markErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.ScoringJobs.WithLabelValues(string(models.SubmissionError), string(reason)).Inc()
	w.logger.Info("Submission failed scoring",
		slog.Int("submission_id", submissionID),
		slog.String("reason", string(reason)),
		slog.String("message", message))
	return nil
}
