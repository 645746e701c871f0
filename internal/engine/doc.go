// Package engine runs detection cycles and owns every change to the
// persisted feed state.
//
// A cycle fetches a snapshot, loads the state, classifies new items, saves
// the advanced frontier together with the merged catalog, dispatches the new
// items and finally records per-recipient delivery progress. Only one cycle
// runs at a time, and every load-modify-save of the state (cycles,
// registration, removal) is serialized through a single writer lock, so
// concurrent chat commands never lose a cycle's update or vice versa.
//
// Saves run on a context detached from cancellation: shutting down while a
// cycle is in flight never aborts a write half way.
package engine
