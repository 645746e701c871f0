package feed

import "errors"

var (
	// ErrSourceUnavailable: the feed could not be fetched. Skip the cycle.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedSnapshot: the feed was reachable but structurally unusable.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	// ErrDeliveryFailure: one item could not be sent to one recipient.
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrStorageCorruption: the persisted record could not be decoded.
	ErrStorageCorruption = errors.New("storage corruption")
)
