// Package app wires configuration, the routing engine, channel kinds,
// storage, the HTTP API and housekeeping into one supervised daemon.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"supernotify/internal/api"
	"supernotify/internal/channel"
	"supernotify/internal/config"
	"supernotify/internal/engine"
	"supernotify/internal/eventbus"
	"supernotify/internal/housekeeping"
	"supernotify/internal/observability/pprof"
	"supernotify/internal/presence"
	rtsup "supernotify/internal/runtime/supervisor"
	"supernotify/internal/storage"
	logx "supernotify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry *channel.Registry
	tracker  *presence.Tracker
	coord    *engine.Coordinator

	api    *api.Server
	keeper *housekeeping.Service
	pprof  *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage is optional; a nil store disables the archive, the inbox
	// channel kind and the purge sweep.
	sc, err := cfg.Storage.StorageSettings()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	registry := buildRegistry(cfg, store, log)
	tracker := presence.NewTracker(bus, log.With(logx.String("comp", "presence")))
	tracker.Seed(cfg.States)

	catalog, scenarios, recipients := buildRouting(context.Background(), cfg, registry, log)

	settings, err := cfg.Engine.Settings()
	if err != nil {
		return nil, err
	}
	snoozes := engine.NewSnoozeStore(log.With(logx.String("comp", "snooze")))
	deps := engine.Deps{
		Catalog:    catalog,
		Scenarios:  scenarios,
		Recipients: recipients,
		Evaluator:  engine.NewEvaluator(log.With(logx.String("comp", "scenario"))),
		Builder:    engine.NewBuilder(registry, log.With(logx.String("comp", "envelope"))),
		Dispatcher: registry,
		Snoozes:    snoozes,
		Dups:       engine.NewDuplicateFilter(settings.DedupWindow, settings.DedupMaxEntries),
		States:     tracker,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "engine")),
	}
	if store != nil {
		deps.Archive = store
	}
	coord := engine.NewCoordinator(deps, engine.Options{DispatchTimeout: settings.DispatchTimeout})

	apiCfg, err := mapAPIConfig(cfg.API)
	if err != nil {
		return nil, err
	}
	apiSrv := api.New(apiCfg, coord, tracker, store, bus, log.With(logx.String("comp", "api")))

	hkCfg, err := mapHousekeepingConfig(cfg.Housekeeping)
	if err != nil {
		return nil, err
	}
	keeper := housekeeping.New(hkCfg, snoozes, store, log.With(logx.String("comp", "housekeeping")))

	ppCfg, err := mapPprofConfig(cfg.Pprof)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(ppCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		registry: registry,
		tracker:  tracker,
		coord:    coord,
		api:      apiSrv,
		keeper:   keeper,
		pprof:    pprofSvc,
	}, nil
}

// Coordinator exposes the engine for tests and embedding.
func (a *App) Coordinator() *engine.Coordinator { return a.coord }

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapAPIConfig(cfg.API); err != nil {
			return err
		}
		if _, err := mapHousekeepingConfig(cfg.Housekeeping); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg.Pprof); err != nil {
			return err
		}
		// Catalog build drops unknown kinds with a warning; a reload
		// where nothing survives is rejected outright.
		if !anyKnownKind(cfg, a.registry) {
			return fmt.Errorf("no channel uses a configured kind (have: %s)",
				strings.Join(a.registry.Kinds(), ","))
		}
		return nil
	})

	a.api.Start(a.sup.Context())
	a.keeper.Start(a.sup.Context())
	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Debug visibility into bus traffic; components subscribe themselves
	// for real work.
	events, unsub := a.bus.Subscribe("", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Debug("config change summary", fields...)

				a.applyReload(c, newCfg, sections)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies the changed config sections. Routing swaps live;
// api and storage changes need a restart and only warn.
func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}

	if changed["channels"] || changed["scenarios"] || changed["recipients"] {
		catalog, scenarios, recipients := buildRouting(ctx, cfg, a.registry, a.log)
		a.coord.Reconfigure(catalog, scenarios, recipients)
	}
	if changed["states"] {
		a.tracker.Seed(cfg.States)
	}

	if changed["pprof"] {
		if ppc, err := mapPprofConfig(cfg.Pprof); err != nil {
			a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
		} else {
			a.pprof.Reconfigure(ctx, ppc)
		}
	}

	for _, s := range []string{"api", "storage", "senders", "engine", "housekeeping"} {
		if changed[s] {
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}
		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("api", 3*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("housekeeping", 2*time.Second, func(c context.Context) error { a.keeper.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// buildRegistry registers the channel kinds the configured credentials
// allow. A kind that fails to initialize is skipped with a warning so one
// bad sender never takes the daemon down.
func buildRegistry(cfg *config.Config, store storage.Store, log logx.Logger) *channel.Registry {
	registry := channel.NewRegistry(log.With(logx.String("comp", "channel")))

	registry.Register(channel.NewSMSKind())
	registry.Register(channel.NewWebhookKind())

	if cfg.Senders.ResendAPIKey != "" {
		registry.Register(channel.NewEmailKind(cfg.Senders.ResendAPIKey))
	}
	if cfg.Senders.TelegramToken != "" {
		if tg, err := channel.NewTelegramKind(cfg.Senders.TelegramToken); err != nil {
			log.Warn("telegram kind unavailable", logx.Err(err))
		} else {
			registry.Register(tg)
		}
	}
	if cfg.Senders.BridgeURL != "" {
		if bridge, err := channel.NewBridgeClient(cfg.Senders.BridgeURL); err != nil {
			log.Warn("bridge kinds unavailable", logx.Err(err))
		} else {
			registry.Register(channel.NewChimeKind(bridge))
			registry.Register(channel.NewVoiceKind(bridge))
		}
	}
	if store != nil {
		registry.Register(channel.NewPersistentKind(store))
	}
	return registry
}

// buildRouting maps the config's channels, scenarios and recipients to
// their engine forms. Invalid entries are dropped with a warning; the
// config validator already rejected structural errors.
func buildRouting(ctx context.Context, cfg *config.Config, registry *channel.Registry, log logx.Logger) (*engine.Catalog, []*engine.Scenario, []engine.Recipient) {
	raw := make([]*engine.CatalogEntry, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		entry, err := ch.CatalogEntry()
		if err != nil {
			log.Warn("dropping channel", logx.String("channel", ch.Name), logx.Err(err))
			continue
		}
		raw = append(raw, entry)
	}
	catalog := engine.NewCatalog(ctx, raw, registry, log.With(logx.String("comp", "catalog")))

	scenarios := make([]*engine.Scenario, 0, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		s, err := sc.Scenario()
		if err != nil {
			log.Warn("dropping scenario", logx.String("scenario", sc.Name), logx.Err(err))
			continue
		}
		scenarios = append(scenarios, s)
	}

	recipients := make([]engine.Recipient, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		recipients = append(recipients, r.Recipient())
	}
	return catalog, scenarios, recipients
}

func anyKnownKind(cfg *config.Config, registry *channel.Registry) bool {
	for _, ch := range cfg.Channels {
		if ch.Enabled != nil && !*ch.Enabled {
			continue
		}
		if registry.HasKind(strings.TrimSpace(ch.Kind)) {
			return true
		}
	}
	return false
}

func mapAPIConfig(c config.APIConfig) (api.Config, error) {
	read, err := config.ParseDurationField("api.read_timeout", c.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("api.write_timeout", c.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("api.idle_timeout", c.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Addr:         c.Addr,
		Token:        c.Token,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func mapHousekeepingConfig(c config.HousekeepingConfig) (housekeeping.Config, error) {
	retention, err := config.ParseDurationOrDefault("housekeeping.archive_retention", c.ArchiveRetention, 720*time.Hour)
	if err != nil {
		return housekeeping.Config{}, err
	}
	return housekeeping.Config{
		SnoozeSweep:      c.SnoozeSweep,
		ArchivePurge:     c.ArchivePurge,
		ArchiveRetention: retention,
	}, nil
}

func mapPprofConfig(c config.PprofConfig) (pprof.Config, error) {
	read, err := config.ParseDurationField("pprof.read_timeout", c.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationField("pprof.write_timeout", c.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationField("pprof.idle_timeout", c.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              c.Enabled,
		Addr:                 c.Addr,
		Token:                c.Token,
		AllowInsecure:        c.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: c.MutexProfileFraction,
		BlockProfileRate:     c.BlockProfileRate,
		MemProfileRate:       c.MemProfileRate,
	}, nil
}
