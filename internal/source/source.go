// Package source fetches feed snapshots from the watched site.
//
// A Source returns items newest first. Fetch errors wrap
// feed.ErrSourceUnavailable (network, HTTP status) or feed.ErrMalformedSnapshot
// (the page was reachable but did not have the expected structure). An empty
// snapshot with a nil error is a valid, empty feed.
package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"feedwatch/internal/feed"
)

type Source interface {
	Fetch(ctx context.Context) (feed.Snapshot, error)
}

// Config selects and configures a source.
type Config struct {
	Kind      string // "html" (default) | "rss"
	URL       string
	UserAgent string
	Timeout   time.Duration

	// HTML only. A missing container means the page layout changed and is
	// reported as a malformed snapshot; a container without items is an
	// empty feed.
	ContainerSelector string
	ItemSelector      string
	TitleSelector     string
	DateSelector      string

	// Location used for dates without a zone. Defaults to UTC.
	Location *time.Location
}

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultTimeout   = 10 * time.Second
)

// New builds the configured source.
func New(cfg Config) (Source, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("source.url is required")
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "html":
		return NewHTML(cfg)
	case "rss", "atom":
		return NewRSS(cfg), nil
	default:
		return nil, errors.New("unknown source kind: " + cfg.Kind)
	}
}
