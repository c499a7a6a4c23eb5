package job_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/gradersync/internal/job"
	"github.com/telhawk-systems/gradersync/internal/lock"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/metrics"
	"github.com/telhawk-systems/gradersync/internal/model"
	"github.com/telhawk-systems/gradersync/internal/repository"
)

var (
	window = model.Window{
		Start: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 10, 23, 59, 59, 0, time.UTC),
	}
	runDate = time.Date(2026, 1, 11, 6, 0, 0, 0, time.UTC)
)

type fakeFetcher struct {
	records []model.RawAttempt
	err     error
	got     model.Window
}

func (f *fakeFetcher) Fetch(_ context.Context, w model.Window) ([]model.RawAttempt, error) {
	f.got = w
	return f.records, f.err
}

type fakeStore struct {
	schemaErr error
	insertErr error
	failRows  int
	inserted  []model.CleanAttempt
	closed    bool
}

func (s *fakeStore) EnsureSchema(context.Context) error { return s.schemaErr }

func (s *fakeStore) InsertAttempts(_ context.Context, attempts []model.CleanAttempt) (repository.InsertResult, error) {
	res := repository.InsertResult{FailedByClass: map[string]int{}}
	if s.insertErr != nil {
		return res, s.insertErr
	}
	for i, a := range attempts {
		if i < s.failRows {
			res.Failed++
			res.FailedByClass[repository.FailureOther]++
			continue
		}
		s.inserted = append(s.inserted, a)
		res.Inserted++
	}
	return res, nil
}

func (s *fakeStore) Close() { s.closed = true }

type fakeReporter struct {
	name    string
	err     error
	reports []model.DailySummary
}

func (r *fakeReporter) Name() string { return r.name }

func (r *fakeReporter) Report(_ context.Context, s model.DailySummary) error {
	r.reports = append(r.reports, s)
	return r.err
}

type fakeDLQ struct {
	written []model.Rejection
	err     error
}

func (d *fakeDLQ) Write(_ context.Context, rej model.Rejection) error {
	if d.err != nil {
		return d.err
	}
	d.written = append(d.written, rej)
	return nil
}

type fakeLocker struct {
	err      error
	released bool
}

func (l *fakeLocker) Acquire(context.Context, model.Window) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released = true
		return nil
	}, nil
}

func (l *fakeLocker) Close() error { return nil }

type harness struct {
	fetcher  *fakeFetcher
	store    *fakeStore
	sheets   *fakeReporter
	dlq      *fakeDLQ
	locker   *fakeLocker
	metrics  *metrics.Metrics
	logs     *bytes.Buffer
	storeErr error
}

func newHarness(records ...model.RawAttempt) *harness {
	return &harness{
		fetcher: &fakeFetcher{records: records},
		store:   &fakeStore{},
		sheets:  &fakeReporter{name: "sheets"},
		dlq:     &fakeDLQ{},
		locker:  &fakeLocker{},
		metrics: metrics.New(),
		logs:    &bytes.Buffer{},
	}
}

func (h *harness) runner() *job.Runner {
	return job.New(job.Options{
		Fetcher: h.fetcher,
		OpenStore: func(context.Context) (job.Store, error) {
			if h.storeErr != nil {
				return nil, h.storeErr
			}
			return h.store, nil
		},
		Reporters: []job.Reporter{h.sheets},
		DLQ:       h.dlq,
		Locker:    h.locker,
		Metrics:   h.metrics,
		Logger:    logging.New(logging.ParseLevel("debug"), "json", h.logs),
		Now:       func() time.Time { return runDate },
		NewRunID:  func() string { return "run-1" },
	})
}

func (h *harness) logLines(t *testing.T) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(bytes.NewReader(h.logs.Bytes()))
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func record(user, payload string, correct any, attemptType string) model.RawAttempt {
	return model.RawAttempt{
		"lti_user_id":     user,
		"passback_params": payload,
		"is_correct":      correct,
		"attempt_type":    attemptType,
		"created_at":      "2026-01-01 10:00:00",
	}
}

func TestRun_ScenarioA(t *testing.T) {
	h := newHarness(record("u1", "{'oauth_consumer_key':'k1'}", json.Number("1"), "submit"))

	rep := h.runner().Run(context.Background(), window)

	assert.False(t, rep.Failed())
	assert.Equal(t, window, h.fetcher.got)
	require.Len(t, h.store.inserted, 1)

	a := h.store.inserted[0]
	require.NotNil(t, a.UserID)
	assert.Equal(t, "u1", *a.UserID)
	require.NotNil(t, a.OAuthConsumerKey)
	assert.Equal(t, "k1", *a.OAuthConsumerKey)
	assert.Nil(t, a.LISResultSourcedID)
	assert.Equal(t, model.CorrectnessTrue, a.IsCorrect)
	require.NotNil(t, a.AttemptType)
	assert.Equal(t, "submit", *a.AttemptType)

	assert.True(t, h.store.closed)
	assert.True(t, h.locker.released)
	assert.Equal(t, []string{"sheets"}, rep.Reported)
	require.Len(t, h.sheets.reports, 1)
	assert.Equal(t, model.DailySummary{
		Date:               "2026-01-11",
		TotalAttempts:      1,
		SuccessfulAttempts: 1,
		UniqueUsers:        1,
		SubmitAttempts:     1,
		UsersCount:         1,
	}, h.sheets.reports[0])
}

func TestRun_ScenariosBC_Rejections(t *testing.T) {
	h := newHarness(
		record("u2", "", json.Number("1"), "run"),
		record("u3", "{'oauth_consumer_key':'k'}", "maybe", "run"),
	)

	rep := h.runner().Run(context.Background(), window)

	assert.False(t, rep.Failed(), "record rejections are not stage failures")
	assert.Empty(t, h.store.inserted)
	assert.Equal(t, 2, rep.Fetched)
	assert.Zero(t, rep.Normalized)
	assert.Equal(t, map[string]int{
		model.ReasonPayloadMissing:     1,
		model.ReasonInvalidCorrectness: 1,
	}, rep.Rejected)

	require.Len(t, h.dlq.written, 2)
	assert.Equal(t, "u2", h.dlq.written[0].UserID)
	assert.Equal(t, "run-1", h.dlq.written[0].RunID)
	assert.Equal(t, 2, rep.DLQWritten)

	var rejected []string
	for _, line := range h.logLines(t) {
		if line["level"] == "ERROR" {
			rejected = append(rejected, line["msg"].(string))
			assert.Equal(t, "run-1", line["run_id"])
		}
	}
	assert.Equal(t, []string{
		"attempt rejected: payload missing",
		"attempt rejected: invalid correctness value",
	}, rejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RecordsFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsRejected.WithLabelValues(model.ReasonPayloadMissing)))
}

func TestRun_ScenarioD_Summary(t *testing.T) {
	payload := "{'oauth_consumer_key': 'k'}"
	h := newHarness(
		record("u1", payload, json.Number("1"), "run"),
		record("u2", payload, json.Number("0"), "submit"),
		record("u1", payload, nil, "run"),
	)

	rep := h.runner().Run(context.Background(), window)

	assert.Equal(t, 3, rep.Summary.TotalAttempts)
	assert.Equal(t, 2, rep.Summary.RunAttempts)
	assert.Equal(t, 1, rep.Summary.SubmitAttempts)
	assert.Equal(t, 1, rep.Summary.SuccessfulAttempts)
	assert.Equal(t, 2, rep.Summary.UniqueUsers)
	assert.Equal(t, 3, rep.Inserted)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SummaryAttempts.WithLabelValues("run")))
}

func TestRun_EmptyInputReportsZeroSummary(t *testing.T) {
	h := newHarness()

	rep := h.runner().Run(context.Background(), window)

	assert.False(t, rep.Failed())
	require.Len(t, h.sheets.reports, 1)
	assert.Equal(t, model.DailySummary{Date: "2026-01-11"}, h.sheets.reports[0])
}

func TestRun_FetchFailureContinuesWithNoRecords(t *testing.T) {
	h := newHarness()
	h.fetcher.err = errors.New("connection refused")

	rep := h.runner().Run(context.Background(), window)

	assert.True(t, rep.Failed())
	assert.ErrorContains(t, rep.StageErrors[job.StageFetch], "connection refused")
	require.Len(t, h.sheets.reports, 1, "summary is still reported")
	assert.Zero(t, h.sheets.reports[0].TotalAttempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StageErrors.WithLabelValues(job.StageFetch)))
}

func TestRun_StoreFailuresDoNotStopReporting(t *testing.T) {
	payload := "{'oauth_consumer_key': 'k'}"

	tests := []struct {
		name  string
		setup func(h *harness)
		stage bool
	}{
		{"connect", func(h *harness) { h.storeErr = errors.New("no route to host") }, true},
		{"schema", func(h *harness) { h.store.schemaErr = errors.New("permission denied") }, true},
		{"insert", func(h *harness) { h.store.insertErr = errors.New("acquire failed") }, true},
		{"row failure", func(h *harness) { h.store.failRows = 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(
				record("u1", payload, json.Number("1"), "run"),
				record("u2", payload, json.Number("1"), "run"),
			)
			tt.setup(h)

			rep := h.runner().Run(context.Background(), window)

			assert.Equal(t, tt.stage, rep.Failed())
			require.Len(t, h.sheets.reports, 1)
			assert.Equal(t, 2, h.sheets.reports[0].TotalAttempts)
			if h.storeErr == nil {
				assert.True(t, h.store.closed, "store is closed on every path")
			}
		})
	}
}

func TestRun_RowFailureCounts(t *testing.T) {
	payload := "{'oauth_consumer_key': 'k'}"
	h := newHarness(
		record("u1", payload, json.Number("1"), "run"),
		record("u2", payload, json.Number("1"), "run"),
	)
	h.store.failRows = 1

	rep := h.runner().Run(context.Background(), window)

	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 1, rep.InsertFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RowsInsertFailed.WithLabelValues(repository.FailureOther)))
}

func TestRun_ReporterFailureIsContained(t *testing.T) {
	h := newHarness()
	h.sheets.err = errors.New("invalid_grant")
	search := &fakeReporter{name: "opensearch"}

	r := job.New(job.Options{
		Fetcher:   h.fetcher,
		Reporters: []job.Reporter{h.sheets, search},
		Logger:    logging.Discard(),
		Now:       func() time.Time { return runDate },
	})
	rep := r.Run(context.Background(), window)

	assert.True(t, rep.Failed())
	assert.Contains(t, rep.StageErrors, "report:sheets")
	assert.Equal(t, []string{"opensearch"}, rep.Reported)
	assert.Len(t, search.reports, 1)
	assert.ErrorContains(t, rep.Err(), "report:sheets: invalid_grant")
}

func TestRun_DLQFailureIsStageFailure(t *testing.T) {
	h := newHarness(record("u1", "", nil, "run"))
	h.dlq.err = errors.New("disk full")

	rep := h.runner().Run(context.Background(), window)

	assert.True(t, rep.Failed())
	assert.Contains(t, rep.StageErrors, job.StageDLQ)
	assert.Len(t, h.sheets.reports, 1)
}

func TestRun_LockedWindowSkipsRun(t *testing.T) {
	h := newHarness(record("u1", "{'a': 1}", json.Number("1"), "run"))
	h.locker.err = lock.ErrLocked

	rep := h.runner().Run(context.Background(), window)

	assert.True(t, rep.Failed())
	assert.ErrorIs(t, rep.StageErrors[job.StageLock], lock.ErrLocked)
	assert.Zero(t, rep.Fetched)
	assert.Empty(t, h.sheets.reports)
	assert.Empty(t, h.store.inserted)
}

func TestRun_LockBackendErrorDoesNotBlockRun(t *testing.T) {
	h := newHarness(record("u1", "{'a': 1}", json.Number("1"), "run"))
	h.locker.err = errors.New("redis: connection pool timeout")

	rep := h.runner().Run(context.Background(), window)

	assert.True(t, rep.Failed())
	assert.Len(t, h.store.inserted, 1)
	assert.Len(t, h.sheets.reports, 1)
}

func TestRun_MinimalOptions(t *testing.T) {
	r := job.New(job.Options{Fetcher: &fakeFetcher{}})
	rep := r.Run(context.Background(), window)

	assert.False(t, rep.Failed())
	assert.NoError(t, rep.Err())
	assert.NotEmpty(t, rep.RunID)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))
}
