package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/notifier"
	"feedwatch/internal/ops"
	"feedwatch/internal/scheduler"
	"feedwatch/internal/source"
	"feedwatch/internal/storage"
	"feedwatch/internal/transport/telegram"
	logx "feedwatch/pkg/logx"
)

const defaultPollTimeout = 10 * time.Second

func mapTelegram(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout),
	}
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget returns the chat that receives forwarded log lines, or 0.
func logTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapSource(cfg *config.Config) (source.Config, error) {
	sc := cfg.Source
	timeout, err := config.ParseDurationField("source.timeout", sc.Timeout)
	if err != nil {
		return source.Config{}, err
	}
	loc := time.UTC
	if tz := strings.TrimSpace(sc.Location); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return source.Config{}, fmt.Errorf("source.location: %w", err)
		}
	}
	return source.Config{
		Kind:              sc.Kind,
		URL:               sc.URL,
		UserAgent:         sc.UserAgent,
		Timeout:           timeout,
		ContainerSelector: sc.ContainerSelector,
		ItemSelector:      sc.ItemSelector,
		TitleSelector:     sc.TitleSelector,
		DateSelector:      sc.DateSelector,
		Location:          loc,
	}, nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	delay := scheduler.DefaultInitialDelay
	if strings.TrimSpace(sc.InitialDelay) != "" {
		d, err := config.ParseDurationField("scheduler.initial_delay", sc.InitialDelay)
		if err != nil {
			return scheduler.Config{}, err
		}
		delay = d
	}
	if strings.TrimSpace(sc.Schedule) != "" {
		if _, err := scheduler.ParseSchedule(sc.Schedule); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	return scheduler.Config{
		InitialDelay: delay,
		Schedule:     sc.Schedule,
		Timezone:     sc.Timezone,
	}, nil
}

func mapDispatch(cfg *config.Config) (notifier.Config, error) {
	dc := cfg.Dispatch
	pacing := notifier.DefaultPacing
	if strings.TrimSpace(dc.Pacing) != "" {
		d, err := config.ParseDurationField("dispatch.pacing", dc.Pacing)
		if err != nil {
			return notifier.Config{}, err
		}
		pacing = d
	}
	if dc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("dispatch.rate_per_sec must not be negative")
	}
	return notifier.Config{
		Pacing:      pacing,
		RatePerSec:  dc.RatePerSec,
		Parallelism: dc.Parallelism,
	}, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
		Redis: storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Key:      sc.Redis.Key,
		},
	}, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	rt, err := config.ParseDurationField("ops.read_timeout", oc.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	wt, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := config.ParseDurationField("ops.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	if rt == 0 {
		rt = 10 * time.Second
	}
	if it == 0 {
		it = 60 * time.Second
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   rt,
		// WriteTimeout stays 0 unless set: /debug/pprof/profile streams for 30s.
		WriteTimeout: wt,
		IdleTimeout:  it,
	}, nil
}

// validate rejects configs whose component mappings fail. Run on every
// reload before the new config is committed.
func validate(cfg *config.Config) error {
	if _, err := mapSource(cfg); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if _, err := mapDispatch(cfg); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapOps(cfg); err != nil {
		return err
	}
	return nil
}
