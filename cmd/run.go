package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/gradersync/internal/config"
	"github.com/telhawk-systems/gradersync/internal/dlq"
	"github.com/telhawk-systems/gradersync/internal/fetcher"
	"github.com/telhawk-systems/gradersync/internal/job"
	"github.com/telhawk-systems/gradersync/internal/lock"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/metrics"
	"github.com/telhawk-systems/gradersync/internal/model"
	"github.com/telhawk-systems/gradersync/internal/reporter"
	"github.com/telhawk-systems/gradersync/internal/repository"
)

// ErrStageFailed is returned by run in strict mode when any stage failed.
var ErrStageFailed = errors.New("sync finished with stage failures")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync pass",
	Long:  "Fetch, normalize, store and report grading attempts for one window",
	Example: `  gradersync run
  gradersync run --start "2026-01-01 00:00:00" --end "2026-01-01 23:59:59"
  gradersync run --strict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}

		if start, _ := cmd.Flags().GetString("start"); start != "" {
			c.Source.Start = start
		}
		if end, _ := cmd.Flags().GetString("end"); end != "" {
			c.Source.End = end
		}
		if strict, _ := cmd.Flags().GetBool("strict"); strict {
			c.Job.StrictExit = true
		}

		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rep, err := runSync(ctx, c, cmd.OutOrStdout(), time.Now)
		if err != nil {
			return err
		}
		if rep.Failed() && c.Job.StrictExit {
			return fmt.Errorf("%w: %w", ErrStageFailed, rep.Err())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("start", "", "window start, "+model.WindowLayout+" (overrides source.start)")
	runCmd.Flags().String("end", "", "window end, "+model.WindowLayout+" (overrides source.end)")
	runCmd.Flags().Bool("strict", false, "exit non-zero when any stage fails (job.strict_exit)")
}

// runSync wires every component from c and executes one pass. Only logger
// setup and window parsing can fail here; component failures become stage
// failures in the returned report.
func runSync(ctx context.Context, c *config.Config, stdout io.Writer, now func() time.Time) (*job.Report, error) {
	window, err := c.Source.Window()
	if err != nil {
		return nil, err
	}

	logger, logFile, err := newLogger(c.Logging, stdout, now())
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	purgeLogs(ctx, logger, c.Logging, now())

	var m *metrics.Metrics
	if c.Metrics.Enabled {
		m = metrics.New()
	}

	queue := openDLQ(ctx, logger, c.DLQ)
	if queue != nil {
		defer queue.Close()
	}

	locker := openLocker(ctx, logger, c.Redis)
	defer locker.Close()

	runner := job.New(job.Options{
		Fetcher: fetcher.NewClient(fetcher.Config{
			URL:       c.Source.URL,
			Client:    c.Source.Client,
			ClientKey: c.Source.ClientKey,
			Timeout:   c.Source.Timeout,
		}),
		OpenStore: func(ctx context.Context) (job.Store, error) {
			repo, err := repository.NewPostgresRepository(ctx, c.Database.Postgres.ConnString(), logger)
			if err != nil {
				return nil, err
			}
			return repo, nil
		},
		Reporters: buildReporters(c),
		DLQ:       queueWriter(queue),
		Locker:    locker,
		Metrics:   m,
		Logger:    logger,
		Now:       now,
	})

	rep := runner.Run(ctx, window)

	if m != nil {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := m.Push(pushCtx, c.Metrics.PushgatewayURL, c.Metrics.Job); err != nil {
			logger.ErrorContext(ctx, "failed to push metrics", logging.Error(err))
		}
	}

	return rep, nil
}

// newLogger writes to stdout and to the daily log file.
func newLogger(lc config.LoggingConfig, stdout io.Writer, now time.Time) (*logging.Logger, io.Closer, error) {
	f, err := logging.OpenDailyFile(lc.Dir, now)
	if err != nil {
		return nil, nil, err
	}
	return logging.New(logging.ParseLevel(lc.Level), lc.Format, io.MultiWriter(stdout, f)), f, nil
}

func purgeLogs(ctx context.Context, logger *logging.Logger, lc config.LoggingConfig, now time.Time) {
	retention := lc.Retention
	if retention <= 0 {
		retention = logging.DefaultRetention
	}

	removed, err := logging.PurgeOlderThan(lc.Dir, now, retention)
	for _, path := range removed {
		logger.InfoContext(ctx, "old log file removed", logging.File(path))
	}
	if err != nil {
		logger.WarnContext(ctx, "log purge incomplete", logging.Error(err))
	}
}

func openDLQ(ctx context.Context, logger *logging.Logger, dc config.DLQConfig) dlq.Queue {
	if !dc.Enabled {
		return nil
	}

	switch dc.Backend {
	case dlq.BackendJetStream:
		q, err := dlq.NewJetStreamQueue(ctx, dc.NatsURL, logger)
		if err != nil {
			logger.ErrorContext(ctx, "dlq unavailable, rejected records will only be logged", logging.Error(err))
			return nil
		}
		return q
	default:
		q, err := dlq.NewFileQueue(dc.BasePath, logger)
		if err != nil {
			logger.ErrorContext(ctx, "dlq unavailable, rejected records will only be logged", logging.Error(err))
			return nil
		}
		return q
	}
}

// queueWriter avoids handing the runner a non-nil interface holding nothing.
func queueWriter(q dlq.Queue) job.DLQ {
	if q == nil {
		return nil
	}
	return q
}

func openLocker(ctx context.Context, logger *logging.Logger, rc config.RedisConfig) lock.Locker {
	if !rc.Enabled {
		return lock.NoOp()
	}
	l, err := lock.NewRedisLocker(rc.URL, rc.LockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "run lock unavailable, continuing unlocked", logging.Error(err))
		return lock.NoOp()
	}
	return l
}

func buildReporters(c *config.Config) []job.Reporter {
	var reporters []job.Reporter

	if c.Sheets.Enabled {
		if r, err := reporter.NewSheetsReporter(c.Sheets); err != nil {
			reporters = append(reporters, unavailable{name: "sheets", err: err})
		} else {
			reporters = append(reporters, r)
		}
	}

	if c.OpenSearch.Enabled {
		if r, err := reporter.NewOpenSearchReporter(c.OpenSearch); err != nil {
			reporters = append(reporters, unavailable{name: "opensearch", err: err})
		} else {
			reporters = append(reporters, r)
		}
	}

	return reporters
}

// unavailable stands in for a sink that could not be constructed so the
// failure is reported by the report stage like any other sink error.
type unavailable struct {
	name string
	err  error
}

func (u unavailable) Name() string { return u.name }

func (u unavailable) Report(context.Context, model.DailySummary) error { return u.err }
