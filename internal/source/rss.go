package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedwatch/internal/feed"
)

// RSS reads an RSS or Atom feed. Entries keep document order, which both
// formats publish newest first.
type RSS struct {
	cfg    Config
	client *http.Client
	parser *gofeed.Parser
	now    func() time.Time
}

func NewRSS(cfg Config) *RSS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &RSS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		parser: gofeed.NewParser(),
		now:    time.Now,
	}
}

func (r *RSS) Fetch(ctx context.Context) (feed.Snapshot, error) {
	body, err := get(ctx, r.client, strings.TrimSpace(r.cfg.URL), r.cfg.UserAgent)
	if err != nil {
		return nil, err
	}

	parsed, err := r.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %v", feed.ErrMalformedSnapshot, err)
	}

	fetchedAt := r.now()
	out := make(feed.Snapshot, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := entryLink(entry)
		if link == "" {
			continue
		}
		item := feed.Item{
			ID:          link,
			Title:       collapseSpace(entry.Title),
			PublishedAt: fetchedAt,
		}
		switch {
		case entry.PublishedParsed != nil:
			item.PublishedAt = *entry.PublishedParsed
		case entry.UpdatedParsed != nil:
			item.PublishedAt = *entry.UpdatedParsed
		}
		if entry.PublishedParsed != nil || entry.UpdatedParsed != nil {
			item.DisplayDate = FormatDate(item.PublishedAt.In(r.location()))
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *RSS) location() *time.Location {
	if r.cfg.Location != nil {
		return r.cfg.Location
	}
	return time.UTC
}

// entryLink prefers the explicit link and falls back to a URL-shaped GUID.
func entryLink(entry *gofeed.Item) string {
	if l := strings.TrimSpace(entry.Link); l != "" {
		return l
	}
	if g := strings.TrimSpace(entry.GUID); strings.HasPrefix(g, "http") {
		return g
	}
	return ""
}
