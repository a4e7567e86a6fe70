// Package janitor runs the gateway's scheduled maintenance: expired
// session sweeps, log retention purges and a daily activity summary.
//
// The sweeps are storage hygiene only. Session correctness is enforced
// by lazy deletion on validation; nothing here is load-bearing.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sirosfoundation/go-punchout/internal/export"
	"github.com/sirosfoundation/go-punchout/internal/metrics"
	"github.com/sirosfoundation/go-punchout/internal/session"
	"github.com/sirosfoundation/go-punchout/internal/storage"
)

// DefaultLogRetention keeps transaction logs for 90 days.
const DefaultLogRetention = 90 * 24 * time.Hour

const jobTimeout = 5 * time.Minute

// Janitor owns the cron schedule
type Janitor struct {
	cron     *cron.Cron
	store    storage.Store
	sessions *session.Manager
	exporter *export.Exporter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	logRetention time.Duration
}

// Config holds janitor configuration
type Config struct {
	LogRetention time.Duration
	Logger       *slog.Logger
}

// New creates a janitor. Start must be called to begin scheduling.
func New(store storage.Store, sessions *session.Manager, exporter *export.Exporter, m *metrics.Metrics, cfg *Config) *Janitor {
	if cfg == nil {
		cfg = &Config{}
	}
	retention := cfg.LogRetention
	if retention == 0 {
		retention = DefaultLogRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		store:        store,
		sessions:     sessions,
		exporter:     exporter,
		metrics:      m,
		logger:       logger,
		logRetention: retention,
	}
}

// Start registers the jobs and begins the schedule.
func (j *Janitor) Start() error {
	jobs := []struct {
		spec string
		run  func(context.Context)
	}{
		{"@hourly", j.sweepSessions},
		{"30 2 * * *", j.purgeLogs},
		{"0 3 * * *", j.dailySummary},
	}
	for _, job := range jobs {
		run := job.run
		if _, err := j.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return err
		}
	}
	j.cron.Start()
	j.logger.Info("janitor started", "log_retention", j.logRetention)
	return nil
}

// Stop halts the schedule and waits for running jobs.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweepSessions(ctx context.Context) {
	removed, err := j.sessions.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("session sweep", "error", err)
		return
	}
	if removed > 0 {
		j.metrics.SessionsExpired.Add(float64(removed))
		j.logger.Info("session sweep", "removed", removed)
	}
}

func (j *Janitor) purgeLogs(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.logRetention)
	purged, err := j.store.PurgeLogs(ctx, cutoff)
	if err != nil {
		j.logger.Error("log purge", "error", err)
		return
	}
	j.logger.Info("log purge", "purged", purged, "cutoff", cutoff)
}

// dailySummary logs yesterday's per-buyer activity rollup.
func (j *Janitor) dailySummary(ctx context.Context) {
	end := time.Now().UTC()
	rows, err := j.exporter.AnalyticsRows(ctx, export.Range{Start: end.Add(-24 * time.Hour), End: end})
	if err != nil {
		j.logger.Error("daily summary", "error", err)
		return
	}

	var sessions, carts int64
	activeBuyers := 0
	for _, row := range rows {
		sessions += row.SessionCount
		carts += row.CartCount
		if row.SessionCount > 0 {
			activeBuyers++
		}
	}
	j.logger.Info("daily summary",
		"buyers", len(rows),
		"active_buyers", activeBuyers,
		"sessions", sessions,
		"carts", carts,
	)
}
