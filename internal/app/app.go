// Package app wires the configured components together and runs them under
// one supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"feedwatch/internal/bot"
	"feedwatch/internal/config"
	"feedwatch/internal/engine"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/notifier"
	"feedwatch/internal/ops"
	"feedwatch/internal/runtime/supervisor"
	"feedwatch/internal/scheduler"
	"feedwatch/internal/source"
	"feedwatch/internal/storage"
	kit "feedwatch/internal/transport"
	"feedwatch/internal/transport/telegram"
	logx "feedwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Memory

	store   storage.Store
	adapter *telegram.Adapter
	disp    *notifier.Dispatcher
	engine  *engine.Engine
	sched   *scheduler.Service
	bot     *bot.Bot
	metrics *ops.Metrics
	ops     *ops.Server

	startedAt time.Time
	updates   chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapTelegram(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off so Apply does not warn before the
	// target chat is known.
	logCfg := mapLogging(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if id := logTarget(cfg); id != 0 {
		logSvc.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)

	bus := eventbus.New()
	comp, err := buildCore(cfg, log, bus, notifier.NewChatSender(ad), false)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		_ = comp.store.Close()
		return nil, err
	}
	sched, err := scheduler.New(schedCfg, comp.engine, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = comp.store.Close()
		return nil, err
	}

	metrics := ops.NewMetrics(bus.Dropped)
	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   comp.store,
		adapter: ad,
		disp:    comp.disp,
		engine:  comp.engine,
		sched:   sched,
		bot: bot.New(bot.Config{OwnerUserIDs: cfg.Telegram.OwnerUserIDs},
			comp.engine, ad, log.With(logx.String("comp", "bot"))),
		metrics: metrics,
		updates: make(chan kit.Update, 256),
	}
	a.ops = ops.NewServer(metrics, a.health, log)
	return a, nil
}

type components struct {
	store  storage.Store
	disp   *notifier.Dispatcher
	engine *engine.Engine
}

// buildCore opens the state store and builds the source, dispatcher and
// engine. The caller owns the returned store. A readOnly store never writes
// or moves the persisted state.
func buildCore(cfg *config.Config, log logx.Logger, bus eventbus.Bus, sender notifier.Sender, readOnly bool) (components, error) {
	srcCfg, err := mapSource(cfg)
	if err != nil {
		return components{}, err
	}
	src, err := source.New(srcCfg)
	if err != nil {
		return components{}, err
	}
	dispCfg, err := mapDispatch(cfg)
	if err != nil {
		return components{}, err
	}
	storeCfg, err := mapStorage(cfg)
	if err != nil {
		return components{}, err
	}
	storeCfg.ReadOnly = readOnly
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return components{}, err
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver))

	disp := notifier.New(dispCfg, sender, log.With(logx.String("comp", "dispatch")), bus)
	eng := engine.New(src, store, disp, log.With(logx.String("comp", "engine")), bus,
		engine.Options{CatalogMax: cfg.Storage.CatalogMax})
	return components{store: store, disp: disp, engine: eng}, nil
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if st, err := a.engine.State(ctx); err != nil {
		a.log.Warn("state not readable at start", logx.Err(err))
	} else {
		a.metrics.SetRecipients(len(st.Recipients))
		a.log.Info("state loaded",
			logx.Int("recipients", len(st.Recipients)),
			logx.Int("known_items", len(st.KnownItems)),
			logx.String("frontier", st.LastSeenID),
		)
	}
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if opsCfg, err := mapOps(a.cfgm.Get()); err == nil {
		if err := a.ops.Apply(ctx, opsCfg); err != nil {
			a.log.Warn("ops server unavailable", logx.Err(err))
		}
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("telegram.menu", func(c context.Context) error {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.bot.Commands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
		return nil
	})
	a.sup.Go("bot.commands", func(c context.Context) error { return a.bot.Run(c, a.updates) })

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return watchdog(c, a.log, func() bool { return a.sup.Err() == nil })
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig applies the parts of a reloaded config that can change in
// place: logging, owners, dispatch limits and the ops server.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	a.logs.SetTelegramTarget(logTarget(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogging(newCfg))

	a.bot.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if dc, err := mapDispatch(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}

	if oc, err := mapOps(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else if err := a.ops.Apply(ctx, oc); err != nil {
		a.log.Warn("ops server unavailable", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// The scheduler goes first so an in-flight cycle can persist its
	// progress before the store closes.
	a.step(ctx, "scheduler", 5*time.Second, a.sched.Stop)
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		if err != nil && stepCtx.Err() == nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
