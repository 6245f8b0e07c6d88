package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job runs a Service on a fixed interval until its context is cancelled,
// rotating old archives after every successful snapshot.
type Job struct {
	service       *Service
	interval      time.Duration
	retentionDays int
	log           zerolog.Logger
}

// NewJob constructs a periodic backup Job.
func NewJob(service *Service, interval time.Duration, retentionDays int, log zerolog.Logger) *Job {
	return &Job{service: service, interval: interval, retentionDays: retentionDays, log: log.With().Str("component", "backup.job").Logger()}
}

// Run blocks, firing a backup+rotate cycle on every tick until ctx is
// cancelled. Callers run it in its own goroutine.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("backup job stopping")
			return
		case <-ticker.C:
			if err := j.service.Run(ctx); err != nil {
				j.log.Error().Err(err).Msg("scheduled backup failed")
				continue
			}
			if err := j.service.Rotate(ctx, j.retentionDays); err != nil {
				j.log.Error().Err(err).Msg("backup rotation failed")
			}
		}
	}
}
