package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Scheduler refreshes the catalog at fixed times of day.
type Scheduler struct {
	reloader *Reloader
	at       string
	cron     *gocron.Scheduler
	logger   zerolog.Logger
}

// NewScheduler schedules reloads at the times listed in at, formatted as
// "HH:MM" and separated by ";". An empty at disables scheduling.
func NewScheduler(reloader *Reloader, at string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		reloader: reloader,
		at:       strings.TrimSpace(at),
		cron:     gocron.NewScheduler(time.Local),
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the refresh job and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	if s.at == "" {
		s.logger.Info().Msg("scheduled catalog refresh disabled")
		return nil
	}

	_, err := s.cron.Every(1).Days().At(s.at).Do(func() {
		ctx := s.logger.WithContext(context.Background())
		if _, err := s.reloader.Run(ctx); err != nil {
			switch {
			case errors.Is(err, ErrReloadInProgress):
				s.logger.Info().Msg("catalog reload already running, skipping scheduled refresh")
				return
			case errors.Is(err, ErrReloaderClosed):
				return
			}
			s.logger.Error().Err(err).Msg("scheduled catalog refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule catalog refresh at %q: %w", s.at, err)
	}

	s.cron.StartAsync()
	s.logger.Info().Str("at", s.at).Msg("scheduled catalog refresh enabled")
	return nil
}

// Stop halts the scheduler. A reload already running is not interrupted;
// use Reloader.Shutdown for that.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
