package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/feed"
	"feedwatch/internal/source"
	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

type Engine struct {
	// cycleMu admits one cycle at a time.
	cycleMu sync.Mutex
	// stateMu guards every load-modify-save of the persisted state.
	stateMu sync.Mutex

	src   source.Source
	store storage.Store
	disp  Dispatcher
	log   logx.Logger
	bus   eventbus.Bus

	catalogMax int
	now        func() time.Time

	lastMu sync.Mutex
	last   CycleResult
}

func New(src source.Source, store storage.Store, disp Dispatcher, log logx.Logger, bus eventbus.Bus, opt Options) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if opt.CatalogMax <= 0 {
		opt.CatalogMax = feed.DefaultCatalogMax
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Engine{
		src:        src,
		store:      store,
		disp:       disp,
		log:        log,
		bus:        bus,
		catalogMax: opt.CatalogMax,
		now:        opt.Now,
	}
}

// RunCycle performs one detection cycle. It never panics on source, storage
// or delivery faults; they are reported through the result's Outcome and Err.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	res := CycleResult{ID: uuid.NewString(), StartedAt: e.now()}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleStarted, Data: res.ID})
	log := e.log.With(logx.String("cycle", res.ID))

	e.cycle(ctx, log, &res)

	res.FinishedAt = e.now()
	e.lastMu.Lock()
	e.last = res
	e.lastMu.Unlock()

	sent, failed := res.Report.Totals()
	fin := eventbus.CycleFinished{
		CycleID:  res.ID,
		Outcome:  string(res.Outcome),
		NewItems: len(res.NewItems),
		Sent:     sent,
		Failed:   failed,
		Duration: res.Duration(),
	}
	if res.Err != nil {
		fin.Err = res.Err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Data: fin})
	return res
}

func (e *Engine) cycle(ctx context.Context, log logx.Logger, res *CycleResult) {
	snapshot, err := e.src.Fetch(ctx)
	if err != nil {
		res.Err = err
		res.Outcome = classifyFetch(err)
		return
	}
	snapshot = feed.Dedup(snapshot)
	log.Debug("snapshot fetched", logx.Int("items", len(snapshot)))

	e.stateMu.Lock()
	st, err := e.store.Load(ctx)
	if err != nil {
		e.stateMu.Unlock()
		res.Err = fmt.Errorf("load state: %w", err)
		res.Outcome = OutcomeSkippedStorage
		return
	}
	st.Normalize()

	newItems, frontier := feed.Detect(snapshot, st.LastSeenID)
	res.Frontier = frontier
	if len(newItems) == 0 {
		e.stateMu.Unlock()
		res.Outcome = OutcomeNoChange
		return
	}

	prev := st.LastSeenID
	st.LastSeenID = frontier
	feed.MergeCatalog(&st, snapshot, e.catalogMax)
	if err := e.store.Save(context.WithoutCancel(ctx), st); err != nil {
		e.stateMu.Unlock()
		// Dispatching without a durable frontier would repeat the burst next cycle.
		res.Frontier = prev
		res.Err = fmt.Errorf("save state: %w", err)
		res.Outcome = OutcomeSkippedStorage
		return
	}
	recipients := st.RecipientIDs()
	e.stateMu.Unlock()

	res.NewItems = newItems
	res.Recipients = len(recipients)
	res.Outcome = OutcomeDispatched
	log.Info("new items detected",
		logx.Int("items", len(newItems)),
		logx.Int("recipients", len(recipients)),
		logx.String("frontier", frontier),
	)

	if len(recipients) == 0 || e.disp == nil {
		return
	}
	res.Report = e.disp.Dispatch(ctx, res.ID, newItems, recipients)
	if err := e.recordProgress(ctx, res); err != nil {
		log.Warn("delivery progress not saved", logx.Err(err))
	}
}

// recordProgress stores the end of each recipient's acknowledged prefix. Recipients
// removed while the dispatch was running stay removed.
func (e *Engine) recordProgress(ctx context.Context, res *CycleResult) error {
	changed := false
	for _, o := range res.Report {
		if o.LastNotifiedID != "" {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	wctx := context.WithoutCancel(ctx)
	st, err := e.store.Load(wctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	st.Normalize()
	for rid, o := range res.Report {
		r, ok := st.Recipients[rid]
		if !ok || o.LastNotifiedID == "" {
			continue
		}
		r.LastNotifiedID = o.LastNotifiedID
		st.Recipients[rid] = r
	}
	if err := e.store.Save(wctx, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func classifyFetch(err error) Outcome {
	if errors.Is(err, feed.ErrMalformedSnapshot) {
		return OutcomeSkippedMalformed
	}
	return OutcomeSkippedSource
}

// LastCycle returns the most recent cycle result, zero before the first.
func (e *Engine) LastCycle() CycleResult {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.last
}

// Preview fetches and classifies without saving or sending anything.
func (e *Engine) Preview(ctx context.Context) CycleResult {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	res := CycleResult{ID: uuid.NewString(), StartedAt: e.now()}
	snapshot, err := e.src.Fetch(ctx)
	if err != nil {
		res.Err = err
		res.Outcome = classifyFetch(err)
		res.FinishedAt = e.now()
		return res
	}
	st, err := e.store.Load(ctx)
	if err != nil {
		res.Err = fmt.Errorf("load state: %w", err)
		res.Outcome = OutcomeSkippedStorage
		res.FinishedAt = e.now()
		return res
	}
	st.Normalize()
	res.NewItems, res.Frontier = feed.Detect(snapshot, st.LastSeenID)
	res.Recipients = len(st.Recipients)
	res.Outcome = OutcomeNoChange
	if len(res.NewItems) > 0 {
		res.Outcome = OutcomeDispatched
	}
	res.FinishedAt = e.now()
	return res
}

// Register adds or refreshes a recipient. Registering again keeps the
// delivery progress and registration time and only updates the name.
func (e *Engine) Register(ctx context.Context, recipientID, displayName string) (created bool, err error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return false, errors.New("empty recipient id")
	}
	total := 0
	err = e.update(ctx, func(st *feed.State) bool {
		r, ok := st.Recipients[recipientID]
		created = !ok
		if !ok {
			r.RegisteredAt = e.now()
		} else if r.DisplayName == displayName {
			total = len(st.Recipients)
			return false
		}
		r.DisplayName = displayName
		st.Recipients[recipientID] = r
		total = len(st.Recipients)
		return true
	})
	if err != nil {
		return false, err
	}
	if created {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientAdd, Data: eventbus.Recipient{
			RecipientID: recipientID, Name: displayName, Total: total,
		}})
	}
	return created, nil
}

// Unregister removes a recipient. Removing an unknown id is not an error.
func (e *Engine) Unregister(ctx context.Context, recipientID string) (removed bool, err error) {
	recipientID = strings.TrimSpace(recipientID)
	total := 0
	err = e.update(ctx, func(st *feed.State) bool {
		_, removed = st.Recipients[recipientID]
		delete(st.Recipients, recipientID)
		total = len(st.Recipients)
		return removed
	})
	if err != nil {
		return false, err
	}
	if removed {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientDrop, Data: eventbus.Recipient{
			RecipientID: recipientID, Total: total,
		}})
	}
	return removed, nil
}

// State returns a copy of the persisted state.
func (e *Engine) State(ctx context.Context) (feed.State, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st, err := e.store.Load(ctx)
	if err != nil {
		return feed.State{}, err
	}
	st.Normalize()
	return st, nil
}

// update applies fn to the stored state and saves it when fn reports a change.
func (e *Engine) update(ctx context.Context, fn func(st *feed.State) bool) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	st.Normalize()
	if !fn(&st) {
		return nil
	}
	if err := e.store.Save(context.WithoutCancel(ctx), st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// CurrentItems lists the source's items, newest first. When the source is
// unavailable it answers from the persisted catalog and marks the result
// cached.
func (e *Engine) CurrentItems(ctx context.Context) (Items, error) {
	snapshot, err := e.src.Fetch(ctx)
	if err == nil {
		return Items{Items: feed.Dedup(snapshot)}, nil
	}
	e.log.Warn("fetch failed; answering from catalog", logx.Err(err))

	st, lerr := e.State(ctx)
	if lerr != nil {
		return Items{}, errors.Join(err, lerr)
	}
	return Items{Items: feed.NewestFirst(st.KnownItems), Cached: true, SourceErr: err}, nil
}

// ItemsWithin lists items published within window before now.
func (e *Engine) ItemsWithin(ctx context.Context, window time.Duration) (Items, error) {
	res, err := e.CurrentItems(ctx)
	if err != nil {
		return Items{}, err
	}
	res.Items = feed.Within(res.Items, e.now(), window)
	return res, nil
}
