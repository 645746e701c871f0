package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/feed"
	"feedwatch/internal/notifier"
	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

type fetchResult struct {
	snap feed.Snapshot
	err  error
}

// scriptedSource returns its results in order and repeats the last one.
type scriptedSource struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

func (s *scriptedSource) Fetch(ctx context.Context) (feed.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	r := s.results[i]
	return append(feed.Snapshot(nil), r.snap...), r.err
}

func (s *scriptedSource) set(results ...fetchResult) {
	s.mu.Lock()
	s.results = results
	s.calls = 0
	s.mu.Unlock()
}

type recorder struct {
	mu   sync.Mutex
	got  map[string][]string
	fail map[string]bool
}

func newRecorder() *recorder {
	return &recorder{got: map[string][]string{}, fail: map[string]bool{}}
}

func (r *recorder) Send(_ context.Context, rid string, it feed.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[rid] {
		return errors.New("blocked")
	}
	r.got[rid] = append(r.got[rid], it.ID)
	return nil
}

func (r *recorder) sent(rid string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got[rid]...)
}

func item(id string, day int) feed.Item {
	return feed.Item{ID: id, Title: id, PublishedAt: time.Date(2025, 7, day, 0, 0, 0, 0, time.UTC)}
}

func snap(items ...feed.Item) fetchResult { return fetchResult{snap: items} }

type fixture struct {
	src   *scriptedSource
	store *storage.Memory
	rec   *recorder
	eng   *Engine
	now   time.Time
}

func newFixture(t *testing.T, results ...fetchResult) *fixture {
	t.Helper()
	f := &fixture{
		src:   &scriptedSource{results: results},
		store: storage.NewMemory(),
		rec:   newRecorder(),
		now:   time.Date(2025, 7, 23, 12, 0, 0, 0, time.UTC),
	}
	disp := notifier.New(notifier.Config{}, f.rec, logx.Nop(), nil)
	f.eng = New(f.src, f.store, disp, logx.Nop(), nil, Options{Now: func() time.Time { return f.now }})
	return f
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f *fixture) state(t *testing.T) feed.State {
	t.Helper()
	st, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestCycleFirstRunSendsWholeSnapshotOldestFirst(t *testing.T) {
	t.Parallel()
	i1, i2, i3 := item("I1", 1), item("I2", 2), item("I3", 3)
	f := newFixture(t, snap(i3, i2, i1))
	ctx := context.Background()
	if _, err := f.eng.Register(ctx, "u1", "User One"); err != nil {
		t.Fatal(err)
	}

	res := f.eng.RunCycle(ctx)
	if res.Outcome != OutcomeDispatched || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Frontier != "I3" {
		t.Fatalf("frontier = %q", res.Frontier)
	}
	if got := f.rec.sent("u1"); !equal(got, []string{"I1", "I2", "I3"}) {
		t.Fatalf("u1 got %v", got)
	}
	st := f.state(t)
	if st.LastSeenID != "I3" || len(st.KnownItems) != 3 {
		t.Fatalf("state = %+v", st)
	}
	if st.Recipients["u1"].LastNotifiedID != "I3" {
		t.Fatalf("recipient = %+v", st.Recipients["u1"])
	}
}

func TestCycleScenarios(t *testing.T) {
	t.Parallel()
	i1, i2, i3, i4, i5 := item("I1", 1), item("I2", 2), item("I3", 3), item("I4", 4), item("I5", 5)
	cases := []struct {
		name     string
		lastSeen string
		snapshot fetchResult
		want     []string
		outcome  Outcome
		frontier string
	}{
		{name: "frontier present", lastSeen: "I2", snapshot: snap(i3, i2, i1), want: []string{"I3"}, outcome: OutcomeDispatched, frontier: "I3"},
		{name: "frontier missing", lastSeen: "stale-id-not-in-snapshot", snapshot: snap(i5, i4), want: []string{"I4", "I5"}, outcome: OutcomeDispatched, frontier: "I5"},
		{name: "unchanged", lastSeen: "I3", snapshot: snap(i3, i2, i1), outcome: OutcomeNoChange, frontier: "I3"},
		{name: "empty feed", lastSeen: "I3", snapshot: snap(), outcome: OutcomeNoChange, frontier: "I3"},
		{name: "source down", lastSeen: "I3", snapshot: fetchResult{err: fmt.Errorf("%w: timeout", feed.ErrSourceUnavailable)}, outcome: OutcomeSkippedSource},
		{name: "malformed", lastSeen: "I3", snapshot: fetchResult{err: fmt.Errorf("%w: no container", feed.ErrMalformedSnapshot)}, outcome: OutcomeSkippedMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tc.snapshot)
			st := feed.NewState()
			st.LastSeenID = tc.lastSeen
			st.Recipients["u1"] = feed.Recipient{DisplayName: "u1"}
			if err := f.store.Save(context.Background(), st); err != nil {
				t.Fatal(err)
			}
			saves := f.store.Saves()

			res := f.eng.RunCycle(context.Background())
			if res.Outcome != tc.outcome {
				t.Fatalf("outcome = %s, want %s (err %v)", res.Outcome, tc.outcome, res.Err)
			}
			if got := f.rec.sent("u1"); !equal(got, tc.want) {
				t.Fatalf("sent %v, want %v", got, tc.want)
			}
			after := f.state(t)
			wantFrontier := tc.frontier
			if wantFrontier == "" {
				wantFrontier = tc.lastSeen
			}
			if after.LastSeenID != wantFrontier {
				t.Fatalf("LastSeenID = %q, want %q", after.LastSeenID, wantFrontier)
			}
			if tc.outcome != OutcomeDispatched && f.store.Saves() != saves {
				t.Fatalf("state written on %s", tc.outcome)
			}
		})
	}
}

func TestFrontierNeverRegresses(t *testing.T) {
	t.Parallel()
	i1, i2, i3, i4 := item("I1", 1), item("I2", 2), item("I3", 3), item("I4", 4)
	f := newFixture(t)
	ctx := context.Background()

	steps := []struct {
		res  fetchResult
		want string
	}{
		{snap(i2, i1), "I2"},
		{fetchResult{err: feed.ErrSourceUnavailable}, "I2"},
		{snap(), "I2"},
		{fetchResult{err: feed.ErrMalformedSnapshot}, "I2"},
		{snap(i3, i2, i1), "I3"},
		{snap(i3, i2), "I3"},
		{snap(i4, i3), "I4"},
		{snap(), "I4"},
	}
	for i, s := range steps {
		f.src.set(s.res)
		f.eng.RunCycle(ctx)
		if got := f.state(t).LastSeenID; got != s.want {
			t.Fatalf("step %d: LastSeenID = %q, want %q", i, got, s.want)
		}
	}
}

type flakyStore struct {
	*storage.Memory
	mu      sync.Mutex
	loadErr error
	saveErr error
}

func (s *flakyStore) Load(ctx context.Context) (feed.State, error) {
	s.mu.Lock()
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return feed.State{}, err
	}
	return s.Memory.Load(ctx)
}

func (s *flakyStore) Save(ctx context.Context, st feed.State) error {
	s.mu.Lock()
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Save(ctx, st)
}

func TestCycleStorageFailuresSkip(t *testing.T) {
	t.Parallel()
	i1 := item("I1", 1)
	src := &scriptedSource{results: []fetchResult{snap(i1)}}
	store := &flakyStore{Memory: storage.NewMemory()}
	rec := newRecorder()
	disp := notifier.New(notifier.Config{}, rec, logx.Nop(), nil)
	eng := New(src, store, disp, logx.Nop(), nil, Options{})
	ctx := context.Background()
	if _, err := eng.Register(ctx, "u1", "u1"); err != nil {
		t.Fatal(err)
	}

	store.loadErr = errors.New("disk unplugged")
	if res := eng.RunCycle(ctx); res.Outcome != OutcomeSkippedStorage || res.Err == nil {
		t.Fatalf("load failure result = %+v", res)
	}

	store.loadErr = nil
	store.saveErr = errors.New("read-only fs")
	if res := eng.RunCycle(ctx); res.Outcome != OutcomeSkippedStorage {
		t.Fatalf("save failure result = %+v", res)
	}
	if got := rec.sent("u1"); len(got) != 0 {
		t.Fatalf("items sent without a durable frontier: %v", got)
	}

	store.saveErr = nil
	if res := eng.RunCycle(ctx); res.Outcome != OutcomeDispatched {
		t.Fatalf("recovered result = %+v", res)
	}
	if got := rec.sent("u1"); !equal(got, []string{"I1"}) {
		t.Fatalf("sent %v", got)
	}
}

func TestDeliveryFailureDoesNotAdvanceRecipient(t *testing.T) {
	t.Parallel()
	i1, i2 := item("I1", 1), item("I2", 2)
	f := newFixture(t, snap(i2, i1))
	ctx := context.Background()
	_, _ = f.eng.Register(ctx, "a", "A")
	_, _ = f.eng.Register(ctx, "b", "B")
	f.rec.fail["a"] = true

	res := f.eng.RunCycle(ctx)
	if sent, failed := res.Report.Totals(); sent != 2 || failed != 2 {
		t.Fatalf("totals = %d,%d", sent, failed)
	}
	st := f.state(t)
	if st.Recipients["a"].LastNotifiedID != "" {
		t.Fatalf("a advanced to %q", st.Recipients["a"].LastNotifiedID)
	}
	if st.Recipients["b"].LastNotifiedID != "I2" {
		t.Fatalf("b = %+v", st.Recipients["b"])
	}
	if _, ok := st.Recipients["a"]; !ok {
		t.Fatal("failing recipient was deregistered")
	}
	if st.LastSeenID != "I2" {
		t.Fatalf("frontier = %q", st.LastSeenID)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, snap())
	ctx := context.Background()

	created, err := f.eng.Register(ctx, "42", "Ivan")
	if err != nil || !created {
		t.Fatalf("first Register = %v, %v", created, err)
	}
	st := f.state(t)
	r := st.Recipients["42"]
	r.LastNotifiedID = "I9"
	st.Recipients["42"] = r
	_ = f.store.Save(ctx, st)

	f.now = f.now.Add(time.Hour)
	created, err = f.eng.Register(ctx, "42", "Ivan Petrov")
	if err != nil || created {
		t.Fatalf("second Register = %v, %v", created, err)
	}
	got := f.state(t).Recipients["42"]
	if got.DisplayName != "Ivan Petrov" || got.LastNotifiedID != "I9" || !got.RegisteredAt.Equal(time.Date(2025, 7, 23, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("recipient = %+v", got)
	}

	saves := f.store.Saves()
	if _, err := f.eng.Register(ctx, "42", "Ivan Petrov"); err != nil {
		t.Fatal(err)
	}
	if f.store.Saves() != saves {
		t.Fatal("unchanged registration rewrote state")
	}
	if _, err := f.eng.Register(ctx, "  ", "x"); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	store := storage.NewMemory()
	eng := New(&scriptedSource{results: []fetchResult{snap()}}, store, nil, logx.Nop(), bus, Options{})
	ctx := context.Background()

	_, _ = eng.Register(ctx, "1", "one")
	removed, err := eng.Unregister(ctx, "1")
	if err != nil || !removed {
		t.Fatalf("Unregister = %v, %v", removed, err)
	}
	removed, err = eng.Unregister(ctx, "1")
	if err != nil || removed {
		t.Fatalf("second Unregister = %v, %v", removed, err)
	}
	st, _ := eng.State(ctx)
	if len(st.Recipients) != 0 {
		t.Fatalf("recipients = %+v", st.Recipients)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if !equal(types, []string{eventbus.TypeRecipientAdd, eventbus.TypeRecipientDrop}) {
		t.Fatalf("events = %v", types)
	}
}

func TestRegistrationDuringDispatchIsNotLost(t *testing.T) {
	t.Parallel()
	i1 := item("I1", 1)
	store := storage.NewMemory()
	src := &scriptedSource{results: []fetchResult{snap(i1)}}

	var eng *Engine
	registered := make(chan error, 1)
	sender := notifier.SenderFunc(func(ctx context.Context, rid string, it feed.Item) error {
		_, err := eng.Register(ctx, "late", "Late")
		registered <- err
		return nil
	})
	disp := notifier.New(notifier.Config{}, sender, logx.Nop(), nil)
	eng = New(src, store, disp, logx.Nop(), nil, Options{})
	ctx := context.Background()
	_, _ = eng.Register(ctx, "early", "Early")

	res := eng.RunCycle(ctx)
	if err := <-registered; err != nil {
		t.Fatalf("Register during dispatch: %v", err)
	}
	if res.Outcome != OutcomeDispatched {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	st, _ := eng.State(ctx)
	if _, ok := st.Recipients["late"]; !ok {
		t.Fatal("registration made during dispatch was overwritten")
	}
	if st.Recipients["early"].LastNotifiedID != "I1" {
		t.Fatalf("early = %+v", st.Recipients["early"])
	}
}

func TestConcurrentCyclesDoNotOverlap(t *testing.T) {
	t.Parallel()
	i1 := item("I1", 1)
	var inFlight, maxInFlight int
	var mu sync.Mutex
	sender := notifier.SenderFunc(func(ctx context.Context, rid string, it feed.Item) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	store := storage.NewMemory()
	eng := New(&scriptedSource{results: []fetchResult{snap(i1)}}, store, notifier.New(notifier.Config{}, sender, logx.Nop(), nil), logx.Nop(), nil, Options{})
	ctx := context.Background()
	_, _ = eng.Register(ctx, "u", "u")

	var wg sync.WaitGroup
	dispatched := 0
	var dmu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if eng.RunCycle(ctx).Outcome == OutcomeDispatched {
				dmu.Lock()
				dispatched++
				dmu.Unlock()
			}
		}()
	}
	wg.Wait()
	if dispatched != 1 {
		t.Fatalf("dispatched cycles = %d, want 1", dispatched)
	}
	if maxInFlight != 1 {
		t.Fatalf("max concurrent sends = %d", maxInFlight)
	}
}

func TestCancelledCycleStillPersistsFrontier(t *testing.T) {
	t.Parallel()
	i1, i2 := item("I1", 1), item("I2", 2)
	ctx, cancel := context.WithCancel(context.Background())
	sender := notifier.SenderFunc(func(context.Context, string, feed.Item) error {
		cancel()
		return nil
	})
	store := storage.NewMemory()
	eng := New(&scriptedSource{results: []fetchResult{snap(i2, i1)}}, store, notifier.New(notifier.Config{Pacing: 10 * time.Millisecond}, sender, logx.Nop(), nil), logx.Nop(), nil, Options{})
	_, _ = eng.Register(context.Background(), "u", "u")

	res := eng.RunCycle(ctx)
	if res.Outcome != OutcomeDispatched {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	st, _ := eng.State(context.Background())
	if st.LastSeenID != "I2" {
		t.Fatalf("frontier = %q", st.LastSeenID)
	}
	if st.Recipients["u"].LastNotifiedID != "I1" {
		t.Fatalf("progress = %q, want I1", st.Recipients["u"].LastNotifiedID)
	}
}

func TestQueriesFallBackToCatalog(t *testing.T) {
	t.Parallel()
	old, fresh := item("I1", 1), feed.Item{ID: "I2", Title: "I2", PublishedAt: time.Date(2025, 7, 23, 6, 0, 0, 0, time.UTC)}
	f := newFixture(t, snap(fresh, old))
	ctx := context.Background()

	live, err := f.eng.CurrentItems(ctx)
	if err != nil || live.Cached || len(live.Items) != 2 {
		t.Fatalf("live = %+v, %v", live, err)
	}
	recent, err := f.eng.ItemsWithin(ctx, 24*time.Hour)
	if err != nil || len(recent.Items) != 1 || recent.Items[0].ID != "I2" {
		t.Fatalf("recent = %+v, %v", recent, err)
	}

	f.eng.RunCycle(ctx)
	f.src.set(fetchResult{err: feed.ErrSourceUnavailable})

	cached, err := f.eng.CurrentItems(ctx)
	if err != nil || !cached.Cached || !errors.Is(cached.SourceErr, feed.ErrSourceUnavailable) {
		t.Fatalf("cached = %+v, %v", cached, err)
	}
	if len(cached.Items) != 2 || cached.Items[0].ID != "I2" {
		t.Fatalf("cached items not newest first: %+v", cached.Items)
	}
	recent, err = f.eng.ItemsWithin(ctx, 24*time.Hour)
	if err != nil || !recent.Cached || len(recent.Items) != 1 {
		t.Fatalf("cached recent = %+v, %v", recent, err)
	}
	if f.state(t).LastSeenID != "I2" {
		t.Fatal("queries moved the frontier")
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	t.Parallel()
	i1, i2 := item("I1", 1), item("I2", 2)
	f := newFixture(t, snap(i2, i1))
	ctx := context.Background()
	_, _ = f.eng.Register(ctx, "u", "u")
	saves := f.store.Saves()

	res := f.eng.Preview(ctx)
	if res.Outcome != OutcomeDispatched || len(res.NewItems) != 2 || res.NewItems[0].ID != "I1" || res.Recipients != 1 {
		t.Fatalf("preview = %+v", res)
	}
	if f.store.Saves() != saves || len(f.rec.sent("u")) != 0 {
		t.Fatal("preview changed state or sent messages")
	}
}

func TestCycleEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	eng := New(&scriptedSource{results: []fetchResult{{err: feed.ErrSourceUnavailable}}}, storage.NewMemory(), nil, logx.Nop(), bus, Options{})

	res := eng.RunCycle(context.Background())
	if eng.LastCycle().ID != res.ID {
		t.Fatal("LastCycle not recorded")
	}
	var fin eventbus.CycleFinished
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.TypeCycleFinished {
			fin = e.Data.(eventbus.CycleFinished)
		}
	}
	if fin.CycleID != res.ID || fin.Outcome != string(OutcomeSkippedSource) || fin.Err == "" {
		t.Fatalf("finished event = %+v", fin)
	}
}
