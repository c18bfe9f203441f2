// Package jobs holds scheduled background work.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"delivery/internal/logx"
)

// DefaultExpirySchedule runs the sweep every 30 seconds.
const DefaultExpirySchedule = "*/30 * * * * *"

// Expirer cancels lapsed offers and reports how many it cancelled.
type Expirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// ExpiryJob periodically cancels initial deliveries whose acceptance window
// has passed.
type ExpiryJob struct {
	expirer  Expirer
	cron     *cron.Cron
	schedule string
	batch    int
	timeout  time.Duration
	log      logx.Logger
}

// NewExpiryJob creates the job. schedule is a six-field cron spec.
func NewExpiryJob(expirer Expirer, schedule string, batch int, log logx.Logger) *ExpiryJob {
	if schedule == "" {
		schedule = DefaultExpirySchedule
	}
	if batch <= 0 {
		batch = 100
	}
	if log == nil {
		log = logx.Nop()
	}
	return &ExpiryJob{
		expirer:  expirer,
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule: schedule,
		batch:    batch,
		timeout:  20 * time.Second,
		log:      log.With(logx.String("component", "expiry_job")),
	}
}

// Start schedules the sweep.
func (j *ExpiryJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.Run); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("expiry job started", logx.String("schedule", j.schedule))
	return nil
}

// Run performs one sweep.
func (j *ExpiryJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.expirer.ExpireStale(ctx, j.batch)
	if err != nil {
		j.log.Error("expiry sweep failed", logx.Int("expired", n), logx.Err(err))
		return
	}
	if n > 0 {
		j.log.Info("expired stale deliveries", logx.Int("expired", n))
	}
}

// Stop stops scheduling and waits for a running sweep to finish.
func (j *ExpiryJob) Stop() {
	<-j.cron.Stop().Done()
	j.log.Info("expiry job stopped")
}
