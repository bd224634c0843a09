package worker

import (
	"context"
	"time"

	"finanzas/core/port/out"

	"github.com/rs/zerolog"
)

// Scheduler enqueues the periodic work: a sync pass for every active
// profile each interval, and the analysis scans once per day after the
// first sync of that day.
type Scheduler struct {
	profiles out.ProfileRepository
	pool     *Pool
	interval time.Duration
	log      zerolog.Logger

	now         func() time.Time
	lastScanDay string
}

func NewScheduler(profiles out.ProfileRepository, pool *Pool, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		profiles: profiles,
		pool:     pool,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First pass right away so a fresh deployment does not idle a full
	// interval.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	profiles, err := s.profiles.ListActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active profiles failed")
		return
	}

	day := s.now().Format("2006-01-02")
	runScans := day != s.lastScanDay

	enqueued := 0
	for _, p := range profiles {
		if s.pool.Submit(NewMessage(JobProfileSync, map[string]any{
			"profile_id": p.ID,
		})) {
			enqueued++
		}

		if runScans {
			for _, jobType := range []JobType{JobRecurringScan, JobAnomalyScan, JobDedupScan} {
				s.pool.Submit(NewMessage(jobType, map[string]any{
					"profile_id": p.ID,
				}))
			}
		}
	}
	if runScans && len(profiles) > 0 {
		s.lastScanDay = day
	}

	s.log.Info().
		Int("profiles", len(profiles)).
		Int("enqueued", enqueued).
		Bool("scans", runScans).
		Msg("scheduler tick")
}
