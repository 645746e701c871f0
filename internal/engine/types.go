package engine

import (
	"context"
	"time"

	"feedwatch/internal/feed"
	"feedwatch/internal/notifier"
)

type Outcome string

const (
	OutcomeSkippedSource    Outcome = "skipped_source"
	OutcomeSkippedMalformed Outcome = "skipped_malformed"
	OutcomeSkippedStorage   Outcome = "skipped_storage"
	OutcomeNoChange         Outcome = "no_change"
	OutcomeDispatched       Outcome = "dispatched"
)

// Skipped reports whether the cycle ended before detection could complete.
func (o Outcome) Skipped() bool {
	switch o {
	case OutcomeSkippedSource, OutcomeSkippedMalformed, OutcomeSkippedStorage:
		return true
	}
	return false
}

// CycleResult describes one detection cycle.
type CycleResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	// Frontier after the cycle.
	Frontier string
	// NewItems in delivery order, oldest first.
	NewItems   []feed.Item
	Recipients int
	Report     notifier.Report
	Err        error
}

func (r CycleResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Items answers a listing query.
type Items struct {
	Items []feed.Item
	// Cached is set when the source could not be reached and the answer
	// comes from the persisted catalog.
	Cached bool
	// SourceErr is the fetch error that caused the fallback.
	SourceErr error
}

// Dispatcher delivers new items; *notifier.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cycleID string, items []feed.Item, recipients []string) notifier.Report
}

// Options tune an Engine.
type Options struct {
	// Cap for the persisted catalog; 0 means feed.DefaultCatalogMax.
	CatalogMax int
	// Clock, for tests.
	Now func() time.Time
}
