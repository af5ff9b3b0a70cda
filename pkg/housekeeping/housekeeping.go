// Package housekeeping runs the periodic cleanup jobs: pruning old usage
// counters and expired magic links and sessions.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/claimgate/pkg/observability"
)

// Job names, also used as metric labels.
const (
	JobUsage    = "usage"
	JobLinks    = "magic_links"
	JobSessions = "sessions"
)

// UsagePruner deletes usage counters older than the retention window.
type UsagePruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// AuthPruner deletes expired magic links and sessions.
type AuthPruner interface {
	PruneExpired(ctx context.Context) (links int64, sessions int64, err error)
}

// Recorder counts pruned rows per job.
type Recorder interface {
	RecordPruned(job string, n int64)
}

// Config holds the schedules (standard five-field cron, UTC) and retention.
type Config struct {
	UsageSchedule  string
	AuthSchedule   string
	UsageRetention time.Duration
	JobTimeout     time.Duration
}

// DefaultConfig prunes usage nightly at 00:15 UTC with a 90 day retention and
// expired auth tokens every 30 minutes.
func DefaultConfig() Config {
	return Config{
		UsageSchedule:  "15 0 * * *",
		AuthSchedule:   "*/30 * * * *",
		UsageRetention: 90 * 24 * time.Hour,
		JobTimeout:     5 * time.Minute,
	}
}

// Result reports the rows removed by one run.
type Result struct {
	Usage    int64 `json:"usage"`
	Links    int64 `json:"magic_links"`
	Sessions int64 `json:"sessions"`
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron     *cron.Cron
	config   Config
	usage    UsagePruner
	auth     AuthPruner
	recorder Recorder
	logger   *observability.Logger
}

// New registers the jobs. recorder may be nil.
func New(config Config, usage UsagePruner, auth AuthPruner, recorder Recorder, logger *observability.Logger) (*Scheduler, error) {
	defaults := DefaultConfig()
	if config.UsageSchedule == "" {
		config.UsageSchedule = defaults.UsageSchedule
	}
	if config.AuthSchedule == "" {
		config.AuthSchedule = defaults.AuthSchedule
	}
	if config.UsageRetention <= 0 {
		config.UsageRetention = defaults.UsageRetention
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}

	logger = logger.WithField("component", "housekeeping")
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		config:   config,
		usage:    usage,
		auth:     auth,
		recorder: recorder,
		logger:   logger,
	}

	if _, err := s.cron.AddFunc(config.UsageSchedule, s.job(JobUsage, s.pruneUsage)); err != nil {
		return nil, fmt.Errorf("failed to schedule usage pruning: %w", err)
	}
	if _, err := s.cron.AddFunc(config.AuthSchedule, s.job("auth", s.pruneAuth)); err != nil {
		return nil, fmt.Errorf("failed to schedule auth pruning: %w", err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"usage_schedule": s.config.UsageSchedule,
		"auth_schedule":  s.config.AuthSchedule,
	}).Info("housekeeping started")
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("housekeeping jobs still running: %w", ctx.Err())
	}
}

// RunOnce runs every job immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (*Result, error) {
	result := &Result{}
	usage, err := s.pruneUsage(ctx)
	if err != nil {
		return result, err
	}
	result.Usage = usage

	links, sessions, err := s.pruneAuthTokens(ctx)
	if err != nil {
		return result, err
	}
	result.Links, result.Sessions = links, sessions
	return result, nil
}

func (s *Scheduler) job(name string, fn func(context.Context) (int64, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
		defer cancel()

		start := time.Now()
		n, err := fn(ctx)
		logger := s.logger.WithFields(map[string]interface{}{
			"job":         name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			logger.WithError(err).Error("housekeeping job failed")
			return
		}
		logger.WithField("deleted", n).Info("housekeeping job finished")
	}
}

func (s *Scheduler) pruneUsage(ctx context.Context) (int64, error) {
	n, err := s.usage.Prune(ctx, s.config.UsageRetention)
	if err != nil {
		return 0, err
	}
	s.record(JobUsage, n)
	return n, nil
}

func (s *Scheduler) pruneAuth(ctx context.Context) (int64, error) {
	links, sessions, err := s.pruneAuthTokens(ctx)
	return links + sessions, err
}

func (s *Scheduler) pruneAuthTokens(ctx context.Context) (int64, int64, error) {
	links, sessions, err := s.auth.PruneExpired(ctx)
	if err != nil {
		return 0, 0, err
	}
	s.record(JobLinks, links)
	s.record(JobSessions, sessions)
	return links, sessions, nil
}

func (s *Scheduler) record(job string, n int64) {
	if s.recorder != nil {
		s.recorder.RecordPruned(job, n)
	}
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
