package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/feed"
	logx "feedwatch/pkg/logx"
)

// Dispatcher is safe for concurrent use. Apply may be called while a
// dispatch is running; the new settings take effect on the next Dispatch.
type Dispatcher struct {
	mu     sync.Mutex
	cfg    Config
	global *rate.Limiter

	sender Sender
	log    logx.Logger
	bus    eventbus.Bus
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	d := &Dispatcher{sender: sender, log: log, bus: bus}
	d.Apply(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	var global *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		global = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	d.mu.Lock()
	d.cfg = cfg
	d.global = global
	d.mu.Unlock()
}

func (d *Dispatcher) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Dispatch sends items, oldest first, to every recipient and reports what
// was acknowledged. It returns when all recipients are done or ctx is
// cancelled; sends that completed before cancellation are still reported.
func (d *Dispatcher) Dispatch(ctx context.Context, cycleID string, items []feed.Item, recipients []string) Report {
	report := make(Report, len(recipients))
	if len(items) == 0 || len(recipients) == 0 {
		return report
	}

	d.mu.Lock()
	cfg := d.cfg
	global := d.global
	d.mu.Unlock()

	log := d.log.With(logx.String("cycle", cycleID))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(cfg.Parallelism)

	for _, rid := range recipients {
		g.Go(func() error {
			out := d.deliver(ctx, log, cycleID, rid, items, cfg.Pacing, global)
			mu.Lock()
			report[rid] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, log logx.Logger, cycleID, rid string, items []feed.Item, pacing time.Duration, global *rate.Limiter) Outcome {
	var out Outcome
	// Progress only covers the unbroken acknowledged prefix.
	gap := false
	var pace *rate.Limiter
	if pacing > 0 {
		pace = rate.NewLimiter(rate.Every(pacing), 1)
	}

	for _, it := range items {
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				return out
			}
		}
		if global != nil {
			if err := global.Wait(ctx); err != nil {
				return out
			}
		}
		if ctx.Err() != nil {
			return out
		}

		if err := d.send(ctx, rid, it); err != nil {
			gap = true
			out.Failed = append(out.Failed, it.ID)
			log.Warn("delivery failed",
				logx.String("recipient", rid),
				logx.String("item", it.ID),
				logx.Err(err),
			)
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFail, Data: eventbus.Delivery{
				CycleID: cycleID, RecipientID: rid, ItemID: it.ID, Err: err.Error(),
			}})
			continue
		}
		out.Sent = append(out.Sent, it.ID)
		if !gap {
			out.LastNotifiedID = it.ID
		}
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: eventbus.Delivery{
			CycleID: cycleID, RecipientID: rid, ItemID: it.ID,
		}})
	}
	return out
}

// send recovers from a panicking Sender so it counts as one failed item.
func (d *Dispatcher) send(ctx context.Context, rid string, it feed.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", feed.ErrDeliveryFailure, r)
		}
	}()
	if err := d.sender.Send(ctx, rid, it); err != nil {
		if errors.Is(err, feed.ErrDeliveryFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", feed.ErrDeliveryFailure, err)
	}
	return nil
}
