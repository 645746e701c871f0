package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the parts of cfg that can be checked without building the
// components. It reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	zone := func(path, raw string) {
		if tz := strings.TrimSpace(raw); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Kind)) {
	case "", "html", "rss", "atom":
	default:
		add(fmt.Errorf("source.kind: unknown kind %q", cfg.Source.Kind))
	}
	if strings.TrimSpace(cfg.Source.URL) == "" {
		add(errors.New("source.url is required"))
	}
	dur("source.timeout", cfg.Source.Timeout)
	zone("source.location", cfg.Source.Location)

	dur("scheduler.initial_delay", cfg.Scheduler.InitialDelay)
	zone("scheduler.timezone", cfg.Scheduler.Timezone)

	dur("dispatch.pacing", cfg.Dispatch.Pacing)
	if cfg.Dispatch.RatePerSec < 0 {
		add(errors.New("dispatch.rate_per_sec must not be negative"))
	}
	if cfg.Dispatch.Parallelism < 0 {
		add(errors.New("dispatch.parallelism must not be negative"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "memory", "mem":
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required for the redis driver"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if cfg.Storage.CatalogMax < 0 {
		add(errors.New("storage.catalog_max must not be negative"))
	}

	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add(errors.New("logging.telegram requires telegram.group_log"))
	}

	dur("ops.read_timeout", cfg.Ops.ReadTimeout)
	dur("ops.write_timeout", cfg.Ops.WriteTimeout)
	dur("ops.idle_timeout", cfg.Ops.IdleTimeout)

	return errors.Join(errs...)
}
