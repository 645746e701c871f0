package feed

import (
	"reflect"
	"testing"
)

func item(id string) Item { return Item{ID: id, Title: "title " + id} }

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestDetect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		snapshot     Snapshot
		lastSeen     string
		wantNew      []string
		wantFrontier string
	}{
		{
			name:         "first run takes whole snapshot oldest first",
			snapshot:     Snapshot{item("I3"), item("I2"), item("I1")},
			lastSeen:     "",
			wantNew:      []string{"I1", "I2", "I3"},
			wantFrontier: "I3",
		},
		{
			name:         "frontier in the middle",
			snapshot:     Snapshot{item("I3"), item("I2"), item("I1")},
			lastSeen:     "I2",
			wantNew:      []string{"I3"},
			wantFrontier: "I3",
		},
		{
			name:         "frontier at head means nothing new",
			snapshot:     Snapshot{item("I3"), item("I2"), item("I1")},
			lastSeen:     "I3",
			wantNew:      []string{},
			wantFrontier: "I3",
		},
		{
			name:         "stale frontier falls back to whole snapshot",
			snapshot:     Snapshot{item("I5"), item("I4")},
			lastSeen:     "stale-id-not-in-snapshot",
			wantNew:      []string{"I4", "I5"},
			wantFrontier: "I5",
		},
		{
			name:         "empty snapshot keeps frontier",
			snapshot:     nil,
			lastSeen:     "I2",
			wantNew:      []string{},
			wantFrontier: "I2",
		},
		{
			name:         "duplicates keep first occurrence",
			snapshot:     Snapshot{item("I4"), item("I3"), item("I4"), item("I2"), item("I1")},
			lastSeen:     "I2",
			wantNew:      []string{"I3", "I4"},
			wantFrontier: "I4",
		},
		{
			name:         "items without id are ignored",
			snapshot:     Snapshot{item(""), item("I2"), item("  "), item("I1")},
			lastSeen:     "I1",
			wantNew:      []string{"I2"},
			wantFrontier: "I2",
		},
		{
			name:         "snapshot of only blank ids is empty",
			snapshot:     Snapshot{item(""), item(" ")},
			lastSeen:     "I9",
			wantNew:      []string{},
			wantFrontier: "I9",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, frontier := Detect(tt.snapshot, tt.lastSeen)
			if !reflect.DeepEqual(ids(got), tt.wantNew) {
				t.Fatalf("new = %v, want %v", ids(got), tt.wantNew)
			}
			if frontier != tt.wantFrontier {
				t.Fatalf("frontier = %q, want %q", frontier, tt.wantFrontier)
			}
		})
	}
}

func TestDetectIsPure(t *testing.T) {
	t.Parallel()
	snap := Snapshot{item("I5"), item("I4")}
	orig := append(Snapshot(nil), snap...)

	a, fa := Detect(snap, "stale")
	b, fb := Detect(snap, "stale")
	if !reflect.DeepEqual(a, b) || fa != fb {
		t.Fatalf("repeated Detect differs: %v/%q vs %v/%q", ids(a), fa, ids(b), fb)
	}
	if !reflect.DeepEqual(snap, orig) {
		t.Fatalf("Detect mutated its input: %v", ids(snap))
	}
}

func TestDetectFrontierNeverRegresses(t *testing.T) {
	t.Parallel()
	polls := []Snapshot{
		{item("I2"), item("I1")},
		nil,
		{item("I3"), item("I2"), item("I1")},
		{},
		{item("I3"), item("I2")},
		{item("I5"), item("I4")},
	}
	frontier := ""
	var delivered []string
	for _, p := range polls {
		var fresh []Item
		fresh, frontier = Detect(p, frontier)
		delivered = append(delivered, ids(fresh)...)
	}
	if frontier != "I5" {
		t.Fatalf("frontier = %q, want I5", frontier)
	}
	want := []string{"I1", "I2", "I3", "I4", "I5"}
	if !reflect.DeepEqual(delivered, want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
}
