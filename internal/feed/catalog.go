package feed

import (
	"sort"
	"time"
)

// DefaultCatalogMax bounds KnownItems when no explicit cap is configured.
const DefaultCatalogMax = 500

// MergeCatalog records snapshot items in KnownItems. The first observation of
// an id is kept. When the catalog exceeds max, entries with the oldest
// PublishedAt are dropped, except ids present in snapshot.
func MergeCatalog(st *State, snapshot Snapshot, max int) {
	st.Normalize()
	s := Dedup(snapshot)
	current := make(map[string]struct{}, len(s))
	for _, it := range s {
		current[it.ID] = struct{}{}
		if _, ok := st.KnownItems[it.ID]; !ok {
			st.KnownItems[it.ID] = it
		}
	}
	if max <= 0 || len(st.KnownItems) <= max {
		return
	}

	victims := make([]Item, 0, len(st.KnownItems))
	for id, it := range st.KnownItems {
		if _, keep := current[id]; keep {
			continue
		}
		victims = append(victims, it)
	}
	sort.Slice(victims, func(i, j int) bool {
		if !victims[i].PublishedAt.Equal(victims[j].PublishedAt) {
			return victims[i].PublishedAt.Before(victims[j].PublishedAt)
		}
		return victims[i].ID < victims[j].ID
	})
	for _, it := range victims {
		if len(st.KnownItems) <= max {
			break
		}
		delete(st.KnownItems, it.ID)
	}
}

// NewestFirst returns the catalog sorted by PublishedAt, newest first.
func NewestFirst(items map[string]Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Within keeps items published strictly after now-window, preserving order.
func Within(items []Item, now time.Time, window time.Duration) []Item {
	cutoff := now.Add(-window)
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.PublishedAt.After(cutoff) {
			out = append(out, it)
		}
	}
	return out
}
