package notifier

import (
	"context"
	"time"

	"feedwatch/internal/feed"
)

const (
	DefaultPacing      = 500 * time.Millisecond
	DefaultParallelism = 8
)

// Config controls delivery pacing.
type Config struct {
	// Minimum spacing between two sends to the same recipient.
	Pacing time.Duration
	// Aggregate cap across all recipients; 0 disables it.
	RatePerSec float64
	// Recipients served at the same time.
	Parallelism int
}

// Sender delivers one item to one recipient. An error is final for that
// item in this cycle.
type Sender interface {
	Send(ctx context.Context, recipientID string, item feed.Item) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipientID string, item feed.Item) error

func (f SenderFunc) Send(ctx context.Context, recipientID string, item feed.Item) error {
	return f(ctx, recipientID, item)
}

// Outcome is the delivery result for one recipient.
type Outcome struct {
	Sent   []string
	Failed []string
	// LastNotifiedID is the last item of the acknowledged run that starts at
	// the first item, or "" when the first item failed. Later successes after
	// a failure are listed in Sent but do not move it.
	LastNotifiedID string
}

// Report maps recipient ids to their outcome.
type Report map[string]Outcome

func (r Report) Totals() (sent, failed int) {
	for _, o := range r {
		sent += len(o.Sent)
		failed += len(o.Failed)
	}
	return sent, failed
}
