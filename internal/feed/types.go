package feed

import "time"

// Item is one published entry of the watched source.
// ID is the only identity used for dedup; title/date drift between polls
// does not create a new item.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	DisplayDate string    `json:"display_date,omitempty"`
}

// Snapshot is one poll's item list, newest first.
type Snapshot []Item

// Recipient is a registered notification target.
type Recipient struct {
	DisplayName    string    `json:"display_name"`
	LastNotifiedID string    `json:"last_notified_id,omitempty"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// State is the whole persisted record. It is loaded, transformed and saved
// as a unit; nothing holds it between operations.
type State struct {
	// LastSeenID is the frontier: everything at or after it in a snapshot
	// was already handled.
	LastSeenID string               `json:"last_seen_id"`
	KnownItems map[string]Item      `json:"known_items"`
	Recipients map[string]Recipient `json:"recipients"`
}

// NewState returns an empty state with initialized maps.
func NewState() State {
	return State{
		KnownItems: map[string]Item{},
		Recipients: map[string]Recipient{},
	}
}

// Normalize fills nil maps so a decoded partial document is usable.
func (s *State) Normalize() {
	if s.KnownItems == nil {
		s.KnownItems = map[string]Item{}
	}
	if s.Recipients == nil {
		s.Recipients = map[string]Recipient{}
	}
}

// Clone returns a deep copy; callers mutate the copy and save it.
func (s State) Clone() State {
	out := State{
		LastSeenID: s.LastSeenID,
		KnownItems: make(map[string]Item, len(s.KnownItems)),
		Recipients: make(map[string]Recipient, len(s.Recipients)),
	}
	for k, v := range s.KnownItems {
		out.KnownItems[k] = v
	}
	for k, v := range s.Recipients {
		out.Recipients[k] = v
	}
	return out
}

// RecipientIDs returns the registered recipient ids.
func (s State) RecipientIDs() []string {
	out := make([]string, 0, len(s.Recipients))
	for id := range s.Recipients {
		out = append(out, id)
	}
	return out
}
