package feed

import "strings"

// Dedup drops items with an empty id and later duplicates of an id, keeping
// the original order.
func Dedup(s Snapshot) Snapshot {
	if len(s) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(s))
	out := make(Snapshot, 0, len(s))
	for _, it := range s {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		it.ID = id
		out = append(out, it)
	}
	return out
}

// Detect returns the items of snapshot that are newer than lastSeenID, oldest
// first, and the frontier to persist.
//
// snapshot is newest first. If lastSeenID does not occur in it (first run, or
// more items were published than the source window holds) the whole snapshot
// is new. An empty snapshot leaves the frontier unchanged.
func Detect(snapshot Snapshot, lastSeenID string) (newItems []Item, frontier string) {
	s := Dedup(snapshot)
	if len(s) == 0 {
		return nil, lastSeenID
	}
	frontier = s[0].ID
	if frontier == lastSeenID {
		return nil, frontier
	}

	cut := len(s)
	for i, it := range s {
		if lastSeenID != "" && it.ID == lastSeenID {
			cut = i
			break
		}
	}

	newItems = make([]Item, 0, cut)
	for i := cut - 1; i >= 0; i-- {
		newItems = append(newItems, s[i])
	}
	return newItems, frontier
}
