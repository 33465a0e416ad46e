package rating

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

const batchRunTimeout = 30 * time.Minute

type Runner interface {
	Run(ctx context.Context, now time.Time) (Report, error)
}

// Scheduler runs the rating batch on a cron expression evaluated in UTC.
// A run still in progress when the next one is due pushes that one back.
type Scheduler struct {
	sched gocron.Scheduler
	job   gocron.Job
}

func NewScheduler(cronExpr string, runner Runner) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("rating scheduler: %w", err)
	}
	job, err := sched.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() { runOnce(runner) }),
		gocron.WithName("rating_batch"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("rating job %q: %w", cronExpr, err)
	}
	return &Scheduler{sched: sched, job: job}, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	if next, err := s.job.NextRun(); err == nil {
		log.Info().Time("next_run", next).Msg("rating_scheduler_started")
	}
}

func (s *Scheduler) NextRun() (time.Time, error) { return s.job.NextRun() }

func (s *Scheduler) Shutdown() error { return s.sched.Shutdown() }

func runOnce(runner Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), batchRunTimeout)
	defer cancel()
	rep, err := runner.Run(ctx, time.Now())
	if err != nil {
		metricBatchErrors.Add(1)
		log.Error().Err(err).Int("players", rep.Players).Int("failed", rep.Failed).Msg("rating_batch_failed")
		return
	}
	log.Info().Int("players", rep.Players).Int("updated", rep.Updated).Msg("rating_batch_done")
}
