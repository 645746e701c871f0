package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "file-token", "owner_user_ids": [1]},
  "logging": {"level": "debug", "console": true},
  "source": {"url": "http://abitur.spsu.ru/", "location": "UTC"},
  "scheduler": {"initial_delay": "10s", "schedule": "5m"},
  "dispatch": {"pacing": "500ms", "parallelism": 4},
  "storage": {"driver": "file", "path": "./data/state.json", "catalog_max": 200}
}`

const sampleYAML = `
telegram:
  owner_user_ids: [1, 2]
logging:
  level: info
source:
  kind: rss
  url: https://example.org/feed.xml
dispatch:
  pacing: 1s
  rate_per_sec: 20
storage:
  driver: redis
  redis:
    addr: 127.0.0.1:6379
`

const sampleTOML = `
[telegram]
poll_timeout = "30s"

[source]
url = "http://abitur.spsu.ru/"
timeout = "15s"

[storage]
driver = "sqlite"
path = "./data/feedwatch.db"
busy_timeout = "5s"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFormats(t *testing.T) {
	t.Setenv("FEEDWATCH_TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")

	cases := []struct {
		name  string
		file  string
		body  string
		check func(t *testing.T, c *Config)
	}{
		{"json", "config.json", sampleJSON, func(t *testing.T, c *Config) {
			if c.Telegram.Token != "file-token" {
				t.Fatalf("file token should win, got %q", c.Telegram.Token)
			}
			if c.Dispatch.Parallelism != 4 || c.Storage.CatalogMax != 200 {
				t.Fatalf("cfg = %+v", c)
			}
		}},
		{"yaml", "config.yaml", sampleYAML, func(t *testing.T, c *Config) {
			if c.Telegram.Token != "env-token" {
				t.Fatalf("token = %q", c.Telegram.Token)
			}
			if c.Source.Kind != "rss" || c.Dispatch.RatePerSec != 20 || c.Storage.Redis.Addr != "127.0.0.1:6379" {
				t.Fatalf("cfg = %+v", c)
			}
			if len(c.Telegram.OwnerUserIDs) != 2 {
				t.Fatalf("owners = %v", c.Telegram.OwnerUserIDs)
			}
		}},
		{"toml", "config.toml", sampleTOML, func(t *testing.T, c *Config) {
			if c.Storage.Driver != "sqlite" || c.Source.Timeout != "15s" || c.Telegram.PollTimeout != "30s" {
				t.Fatalf("cfg = %+v", c)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, tc.file, tc.body))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if m.Get() != cfg {
				t.Fatal("Load did not commit")
			}
			tc.check(t, cfg)
		})
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"unknown key": `{"source": {"url": "http://x", "selector": ".a"}}`,
		"trailing":    `{"source": {"url": "http://x"}} {}`,
	} {
		m := NewConfigManager(writeFile(t, "c.json", body))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	good := Config{Source: SourceConfig{URL: "http://x"}}
	if err := Validate(&good); err != nil {
		t.Fatalf("minimal config: %v", err)
	}

	bad := Config{
		Source:    SourceConfig{Kind: "gopher", Timeout: "soon"},
		Scheduler: SchedulerConfig{InitialDelay: "-1s", Timezone: "Mars/Olympus"},
		Dispatch:  DispatchConfig{RatePerSec: -1, Parallelism: -2},
		Storage:   StorageConfig{Driver: "redis"},
		Logging:   LoggingConfig{Telegram: LoggingTelegram{Enabled: true}},
	}
	err := Validate(&bad)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{
		"source.kind", "source.url", "source.timeout", "scheduler.initial_delay", "scheduler.timezone",
		"dispatch.rate_per_sec", "dispatch.parallelism", "storage.redis.addr", "telegram.group_log",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	if d := DurationOr("x", "", 5*time.Second); d != 5*time.Second {
		t.Fatalf("empty = %v", d)
	}
	if d := DurationOr("x", "250ms", time.Second); d != 250*time.Millisecond {
		t.Fatalf("set = %v", d)
	}
	if d := DurationOr("x", "bogus", time.Second); d != time.Second {
		t.Fatalf("invalid = %v", d)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"source": {"url": "http://a"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if changed, err := m.Reload(context.Background()); err != nil || changed {
		t.Fatalf("unchanged reload = %v, %v", changed, err)
	}

	if err := os.WriteFile(path, []byte(`{"source": {"url": "http://b"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if changed, err := m.Reload(context.Background()); err != nil || !changed {
		t.Fatalf("reload = %v, %v", changed, err)
	}
	select {
	case c := <-ch:
		if c.Source.URL != "http://b" {
			t.Fatalf("published %+v", c.Source)
		}
	default:
		t.Fatal("nothing published")
	}

	if err := os.WriteFile(path, []byte(`{"source": {"url": ""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("invalid config accepted")
	}
	if m.Get().Source.URL != "http://b" {
		t.Fatal("invalid config committed")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", "source:\n  url: http://a\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and reports the change.
		_ = os.WriteFile(path, []byte("source:\n  url: http://b\n"), 0o600)
		select {
		case c := <-ch:
			if c.Source.URL != "http://b" {
				t.Fatalf("published %+v", c.Source)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("watch did not publish the edit")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "secret-1"}, Dispatch: DispatchConfig{Pacing: "500ms"}}
	b := &Config{Telegram: TelegramConfig{Token: "secret-2"}, Dispatch: DispatchConfig{Pacing: "1s"}}
	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "telegram,dispatch" {
		t.Fatalf("changed = %v", changed)
	}
	if got := RestartRequired(a, b); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestLoadDotEnvIgnoresMissing(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}
