// Package job runs one sync pass: fetch, normalize, persist, aggregate and
// report, strictly in that order and on a single goroutine.
package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/gradersync/internal/aggregator"
	"github.com/telhawk-systems/gradersync/internal/lock"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/metrics"
	"github.com/telhawk-systems/gradersync/internal/model"
	"github.com/telhawk-systems/gradersync/internal/normalizer"
	"github.com/telhawk-systems/gradersync/internal/repository"
)

// Stage names used in logs, metrics and Report.StageErrors.
const (
	StageLock      = "lock"
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageDLQ       = "dlq"
	StageStore     = "store"
	StageAggregate = "aggregate"
	StageReport    = "report"
)

// Fetcher retrieves raw attempts for a window.
type Fetcher interface {
	Fetch(ctx context.Context, w model.Window) ([]model.RawAttempt, error)
}

// Store persists clean attempts. It is opened for the store stage only and
// closed when the stage ends.
type Store interface {
	EnsureSchema(ctx context.Context) error
	InsertAttempts(ctx context.Context, attempts []model.CleanAttempt) (repository.InsertResult, error)
	Close()
}

// StoreOpener connects to the store.
type StoreOpener func(ctx context.Context) (Store, error)

// Reporter delivers the summary to one sink.
type Reporter interface {
	Name() string
	Report(ctx context.Context, summary model.DailySummary) error
}

// DLQ receives rejected raw attempts.
type DLQ interface {
	Write(ctx context.Context, rej model.Rejection) error
}

// Options wires a Runner. Only Fetcher is required; nil collaborators turn
// their stage into a no-op.
type Options struct {
	Fetcher   Fetcher
	OpenStore StoreOpener
	Reporters []Reporter
	DLQ       DLQ
	Locker    lock.Locker
	Metrics   *metrics.Metrics
	Logger    *logging.Logger

	// Now defaults to time.Now and dates the summary.
	Now func() time.Time
	// NewRunID defaults to a UUIDv7 string.
	NewRunID func() string
}

// Runner executes sync passes.
type Runner struct {
	fetcher    Fetcher
	openStore  StoreOpener
	reporters  []Reporter
	dlq        DLQ
	locker     lock.Locker
	metrics    *metrics.Metrics
	logger     *logging.Logger
	normalizer *normalizer.Normalizer
	now        func() time.Time
	newRunID   func() string
}

// New creates a Runner from opts.
func New(opts Options) *Runner {
	r := &Runner{
		fetcher:   opts.Fetcher,
		openStore: opts.OpenStore,
		reporters: opts.Reporters,
		dlq:       opts.DLQ,
		locker:    opts.Locker,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		newRunID:  opts.NewRunID,
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	if r.locker == nil {
		r.locker = lock.NoOp()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newRunID == nil {
		r.newRunID = newRunID
	}
	r.normalizer = normalizer.New(r.logger)
	return r
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Report summarizes one pass.
type Report struct {
	RunID      string
	Window     model.Window
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched      int
	Normalized   int
	Rejected     map[string]int
	DLQWritten   int
	Inserted     int
	InsertFailed int

	Summary  model.DailySummary
	Reported []string

	// StageErrors holds stage-level failures keyed by stage, with report
	// failures keyed as "report:<sink>".
	StageErrors map[string]error
}

// Failed reports whether any stage-level failure occurred. Record rejections
// and failed row inserts do not count.
func (r *Report) Failed() bool {
	return len(r.StageErrors) > 0
}

// Err joins the stage errors in stage name order.
func (r *Report) Err() error {
	if !r.Failed() {
		return nil
	}
	keys := make([]string, 0, len(r.StageErrors))
	for k := range r.StageErrors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("%s: %w", k, r.StageErrors[k]))
	}
	return errors.Join(errs...)
}

func (r *Report) fail(stage string, err error) {
	r.StageErrors[stage] = err
}

// Run executes one pass over w. Every stage failure is logged and recorded
// in the returned report; Run itself never aborts midway except when the
// window is already locked by another run.
func (r *Runner) Run(ctx context.Context, w model.Window) *Report {
	rep := &Report{
		RunID:       r.newRunID(),
		Window:      w,
		StartedAt:   r.now(),
		Rejected:    map[string]int{},
		StageErrors: map[string]error{},
	}
	ctx = logging.ContextWithRunID(ctx, rep.RunID)
	log := r.logger.WithContext(ctx)

	log.Info("sync started", logging.Window(w.String()))

	release, err := r.locker.Acquire(ctx, w)
	if err != nil {
		rep.fail(StageLock, err)
		log.Error("failed to acquire run lock", logging.Stage(StageLock), logging.Error(err))
		if errors.Is(err, lock.ErrLocked) {
			r.finish(ctx, rep)
			return rep
		}
	}
	if release != nil {
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release run lock", logging.Error(err))
			}
		}()
	}

	raws := r.fetch(ctx, rep, w)
	result := r.normalize(ctx, rep, raws)
	r.deadLetter(ctx, rep, result.Rejections)
	r.store(ctx, rep, result.Attempts)

	start := time.Now()
	rep.Summary = aggregator.Summarize(r.now(), result.Attempts)
	r.metrics.ObserveStage(StageAggregate, time.Since(start), nil)
	r.metrics.ObserveSummary(rep.Summary)
	log.Info("summary computed",
		"date", rep.Summary.Date,
		"total_attempts", rep.Summary.TotalAttempts,
		"successful_attempts", rep.Summary.SuccessfulAttempts,
		"unique_users", rep.Summary.UniqueUsers,
		"run_attempts", rep.Summary.RunAttempts,
		"submit_attempts", rep.Summary.SubmitAttempts,
	)

	r.report(ctx, rep)
	r.finish(ctx, rep)
	return rep
}

func (r *Runner) fetch(ctx context.Context, rep *Report, w model.Window) []model.RawAttempt {
	start := time.Now()
	raws, err := r.fetcher.Fetch(ctx, w)
	r.metrics.ObserveStage(StageFetch, time.Since(start), err)
	if err != nil {
		rep.fail(StageFetch, err)
		r.logger.ErrorContext(ctx, "failed to fetch attempts, continuing with no records",
			logging.Stage(StageFetch), logging.Error(err))
		return nil
	}

	rep.Fetched = len(raws)
	if r.metrics != nil {
		r.metrics.RecordsFetched.Add(float64(len(raws)))
	}
	r.logger.InfoContext(ctx, "attempts fetched", logging.Count(len(raws)))
	return raws
}

func (r *Runner) normalize(ctx context.Context, rep *Report, raws []model.RawAttempt) normalizer.Result {
	start := time.Now()
	result := r.normalizer.NormalizeAll(ctx, raws)
	r.metrics.ObserveStage(StageNormalize, time.Since(start), nil)

	rep.Normalized = len(result.Attempts)
	rep.Rejected = result.Rejected()
	if r.metrics != nil {
		r.metrics.RecordsNormalized.Add(float64(rep.Normalized))
		r.metrics.ObserveRejections(rep.Rejected)
	}
	r.logger.InfoContext(ctx, "attempts normalized",
		logging.Count(rep.Normalized), "rejected", len(result.Rejections))
	return result
}

func (r *Runner) deadLetter(ctx context.Context, rep *Report, rejections []model.Rejection) {
	if r.dlq == nil || len(rejections) == 0 {
		return
	}

	start := time.Now()
	var errs []error
	for _, rej := range rejections {
		if err := r.dlq.Write(ctx, rej); err != nil {
			errs = append(errs, err)
			continue
		}
		rep.DLQWritten++
	}
	err := errors.Join(errs...)
	r.metrics.ObserveStage(StageDLQ, time.Since(start), err)
	if err != nil {
		rep.fail(StageDLQ, err)
		r.logger.ErrorContext(ctx, "failed to write rejected attempts to dlq",
			logging.Stage(StageDLQ), "failed", len(errs), logging.Error(err))
	}
}

func (r *Runner) store(ctx context.Context, rep *Report, attempts []model.CleanAttempt) {
	if r.openStore == nil {
		return
	}

	start := time.Now()
	err := r.persist(ctx, rep, attempts)
	r.metrics.ObserveStage(StageStore, time.Since(start), err)
	if err != nil {
		rep.fail(StageStore, err)
		r.logger.ErrorContext(ctx, "store stage abandoned", logging.Stage(StageStore), logging.Error(err))
		return
	}
	r.logger.InfoContext(ctx, "attempts stored", logging.Count(rep.Inserted), "failed", rep.InsertFailed)
}

func (r *Runner) persist(ctx context.Context, rep *Report, attempts []model.CleanAttempt) error {
	st, err := r.openStore(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	res, err := st.InsertAttempts(ctx, attempts)
	rep.Inserted = res.Inserted
	rep.InsertFailed = res.Failed
	if r.metrics != nil {
		r.metrics.RowsInserted.Add(float64(res.Inserted))
		r.metrics.ObserveInsertFailures(res.FailedByClass)
	}
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (r *Runner) report(ctx context.Context, rep *Report) {
	for _, sink := range r.reporters {
		start := time.Now()
		err := sink.Report(ctx, rep.Summary)
		r.metrics.ObserveStage(StageReport, time.Since(start), err)
		if err != nil {
			rep.fail(StageReport+":"+sink.Name(), err)
			r.logger.ErrorContext(ctx, "failed to report summary",
				logging.Stage(StageReport), logging.Sink(sink.Name()), logging.Error(err))
			continue
		}
		rep.Reported = append(rep.Reported, sink.Name())
		r.logger.InfoContext(ctx, "summary reported", logging.Sink(sink.Name()))
	}
}

func (r *Runner) finish(ctx context.Context, rep *Report) {
	rep.FinishedAt = r.now()
	if r.metrics != nil {
		r.metrics.LastRunTimestamp.Set(float64(rep.FinishedAt.Unix()))
	}

	attrs := []any{
		"fetched", rep.Fetched,
		"normalized", rep.Normalized,
		"rejected", rep.Rejected,
		"inserted", rep.Inserted,
		"insert_failed", rep.InsertFailed,
		"dlq_written", rep.DLQWritten,
		"reported", rep.Reported,
		logging.Duration(rep.FinishedAt.Sub(rep.StartedAt).Milliseconds()),
	}
	if err := rep.Err(); err != nil {
		r.logger.WarnContext(ctx, "sync finished with stage failures", append(attrs, logging.Error(err))...)
		return
	}
	r.logger.InfoContext(ctx, "sync finished", attrs...)
}
