package app

import (
	"context"
	"errors"

	"feedwatch/internal/config"
	"feedwatch/internal/engine"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/feed"
	"feedwatch/internal/notifier"
	"feedwatch/internal/storage"
	"feedwatch/internal/transport/telegram"
	logx "feedwatch/pkg/logx"
)

var errDryRun = errors.New("dry run: nothing is sent")

// Check runs one cycle outside the long-running process. With dryRun the
// cycle only fetches and classifies; the state store is opened read-only and
// nothing is sent.
func Check(ctx context.Context, cfgPath string, dryRun bool) (engine.CycleResult, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return engine.CycleResult{}, err
	}
	log := logx.NewConsole(cfg.Logging.Level)

	var sender notifier.Sender = notifier.SenderFunc(func(context.Context, string, feed.Item) error {
		return errDryRun
	})
	if !dryRun {
		ad, err := telegram.New(mapTelegram(cfg), log.With(logx.String("comp", "telegram")))
		if err != nil {
			return engine.CycleResult{}, err
		}
		sender = notifier.NewChatSender(ad)
	}

	comp, err := buildCore(cfg, log, eventbus.Nop{}, sender, dryRun)
	if err != nil {
		return engine.CycleResult{}, err
	}
	defer comp.store.Close()

	if dryRun {
		return comp.engine.Preview(ctx), nil
	}
	return comp.engine.RunCycle(ctx), nil
}

// DumpState loads the persisted state without starting anything.
func DumpState(ctx context.Context, cfgPath string) (feed.State, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return feed.State{}, err
	}
	sc, err := mapStorage(cfg)
	if err != nil {
		return feed.State{}, err
	}
	sc.ReadOnly = true
	store, err := storage.Open(sc, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return feed.State{}, err
	}
	defer store.Close()
	st, err := store.Load(ctx)
	if err != nil {
		return feed.State{}, err
	}
	st.Normalize()
	return st, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
