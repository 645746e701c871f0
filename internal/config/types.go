package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("10s", "5m"); empty means the component default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Source    SourceConfig    `json:"source"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through FEEDWATCH_TELEGRAM_TOKEN
	// or TELEGRAM_BOT_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the chat id that receives log lines when logging.telegram
	// is enabled.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SourceConfig selects what is watched.
//
// Example:
//
//	"source": { "kind": "html", "url": "http://abitur.spsu.ru/", "location": "Europe/Moscow" }
type SourceConfig struct {
	Kind      string `json:"kind,omitempty"` // html (default) | rss
	URL       string `json:"url"`
	UserAgent string `json:"user_agent,omitempty"`
	Timeout   string `json:"timeout,omitempty"`

	ContainerSelector string `json:"container_selector,omitempty"`
	ItemSelector      string `json:"item_selector,omitempty"`
	TitleSelector     string `json:"title_selector,omitempty"`
	DateSelector      string `json:"date_selector,omitempty"`

	// IANA zone for dates printed without one.
	Location string `json:"location,omitempty"`
}

type SchedulerConfig struct {
	InitialDelay string `json:"initial_delay,omitempty"`
	// Schedule is a duration ("5m"), an HH:MM interval or a cron expression.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type DispatchConfig struct {
	Pacing      string  `json:"pacing,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Parallelism int     `json:"parallelism,omitempty"`
}

// StorageConfig selects the state backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/feedwatch.db" }
type StorageConfig struct {
	Driver      string      `json:"driver,omitempty"` // file (default) | sqlite | redis | memory
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty"`
	CatalogMax  int         `json:"catalog_max,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

// OpsConfig controls the operator HTTP server (/healthz, /metrics, pprof).
//
// Bind to loopback unless a token is set; a non-loopback address without a
// token is refused unless allow_insecure is set.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
