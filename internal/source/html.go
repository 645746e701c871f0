package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feedwatch/internal/feed"
)

// Selectors matching the admissions news carousel the bot was written for.
const (
	defaultContainerSelector = ".jtcs119.owl-carousel"
	defaultItemSelector      = ".slide"
	defaultTitleSelector     = ".jt-title"
	defaultDateSelector      = ".jtc_introdate"
)

// HTML scrapes a list of news blocks from a web page.
type HTML struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	now    func() time.Time
}

func NewHTML(cfg Config) (*HTML, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("source.url: %w", err)
	}
	if cfg.ContainerSelector == "" {
		cfg.ContainerSelector = defaultContainerSelector
	}
	if cfg.ItemSelector == "" {
		cfg.ItemSelector = defaultItemSelector
	}
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = defaultTitleSelector
	}
	if cfg.DateSelector == "" {
		cfg.DateSelector = defaultDateSelector
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTML{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}, nil
}

func (h *HTML) Fetch(ctx context.Context) (feed.Snapshot, error) {
	body, err := get(ctx, h.client, h.base.String(), h.cfg.UserAgent)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", feed.ErrMalformedSnapshot, err)
	}
	return h.extract(doc)
}

func (h *HTML) extract(doc *goquery.Document) (feed.Snapshot, error) {
	container := doc.Find(h.cfg.ContainerSelector).First()
	if container.Length() == 0 {
		return nil, fmt.Errorf("%w: container %q not found", feed.ErrMalformedSnapshot, h.cfg.ContainerSelector)
	}

	fetchedAt := h.now()
	var out feed.Snapshot
	container.Find(h.cfg.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		title := sel.Find(h.cfg.TitleSelector).First()
		if title.Length() == 0 {
			return
		}
		href, ok := title.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			href, ok = title.Find("a[href]").First().Attr("href")
		}
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		link, err := h.base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}

		dateText := collapseSpace(sel.Find(h.cfg.DateSelector).First().Text())
		published, ok := ParseDate(dateText, h.cfg.Location)
		if !ok {
			published = fetchedAt
		}
		out = append(out, feed.Item{
			ID:          link.String(),
			Title:       collapseSpace(title.Text()),
			PublishedAt: published,
			DisplayDate: dateText,
		})
	})
	return out, nil
}

// MaxBodyBytes caps how much of a response is read. A larger page is reported
// as malformed rather than parsed from a truncated prefix.
const MaxBodyBytes = 4 << 20

func get(ctx context.Context, client *http.Client, rawURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", feed.ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", feed.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: http %d", feed.ErrSourceUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", feed.ErrSourceUnavailable, err)
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", feed.ErrMalformedSnapshot, MaxBodyBytes)
	}
	return body, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
