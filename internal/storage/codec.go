package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"feedwatch/internal/feed"
)

func encodeState(st feed.State) ([]byte, error) {
	st.Normalize()
	return json.Marshal(st)
}

// decodeState decodes a saved record. Any decode problem is reported as
// feed.ErrStorageCorruption; an empty payload is a fresh state.
func decodeState(b []byte) (feed.State, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return feed.NewState(), nil
	}
	var st feed.State
	if err := json.Unmarshal(b, &st); err != nil {
		return feed.NewState(), fmt.Errorf("%w: %v", feed.ErrStorageCorruption, err)
	}
	st.Normalize()
	return st, nil
}
