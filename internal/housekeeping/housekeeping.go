// Package housekeeping runs cron-driven maintenance sweeps. The engine's
// stores expire lazily; these sweeps only keep memory and disk bounded
// between queries.
package housekeeping

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"supernotify/internal/engine"
	"supernotify/internal/storage"
	logx "supernotify/pkg/logx"
)

// Config schedules the sweeps. Specs take standard cron expressions plus
// @every/@daily descriptors; an empty spec disables that sweep.
type Config struct {
	SnoozeSweep      string
	ArchivePurge     string
	ArchiveRetention time.Duration
}

type Service struct {
	cfg     Config
	snoozes *engine.SnoozeStore
	// store may be nil when storage is disabled; the purge sweep is
	// skipped then.
	store storage.Store
	log   logx.Logger

	c *cron.Cron
}

func New(cfg Config, snoozes *engine.SnoozeStore, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SnoozeSweep == "" {
		cfg.SnoozeSweep = "@every 1m"
	}
	if cfg.ArchiveRetention <= 0 {
		cfg.ArchiveRetention = 720 * time.Hour
	}
	return &Service{cfg: cfg, snoozes: snoozes, store: store, log: log}
}

// Start registers and starts the sweeps. Registration errors are logged
// and the affected sweep skipped; a bad spec never takes the daemon down.
func (s *Service) Start(ctx context.Context) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser))

	if s.cfg.SnoozeSweep != "" && s.snoozes != nil {
		if _, err := s.c.AddFunc(s.cfg.SnoozeSweep, s.sweepSnoozes); err != nil {
			s.log.Warn("snooze sweep disabled: bad spec",
				logx.String("spec", s.cfg.SnoozeSweep), logx.Err(err))
		}
	}
	if s.cfg.ArchivePurge != "" && s.store != nil {
		if _, err := s.c.AddFunc(s.cfg.ArchivePurge, func() { s.purgeArchive(ctx) }); err != nil {
			s.log.Warn("archive purge disabled: bad spec",
				logx.String("spec", s.cfg.ArchivePurge), logx.Err(err))
		}
	}

	s.c.Start()
	s.log.Debug("housekeeping started",
		logx.String("snooze_sweep", s.cfg.SnoozeSweep),
		logx.String("archive_purge", s.cfg.ArchivePurge))
}

// Stop halts the cron schedule and waits for running sweeps.
func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Debug("housekeeping stopped")
}

func (s *Service) sweepSnoozes() {
	if n := s.snoozes.Sweep(time.Now()); n > 0 {
		s.log.Info("expired snoozes swept", logx.Int("count", n))
	}
}

func (s *Service) purgeArchive(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	before := time.Now().Add(-s.cfg.ArchiveRetention)
	n, err := s.store.PurgeRecords(pctx, before)
	if err != nil {
		s.log.Warn("archive purge failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("archive purged", logx.Int("count", n), logx.Time("before", before))
	}
}
