package eventbus

import "time"

const (
	TypeCycleStarted  = "cycle.started"
	TypeCycleFinished = "cycle.finished"
	TypeDeliverySent  = "delivery.sent"
	TypeDeliveryFail  = "delivery.failed"
	TypeRecipientAdd  = "recipient.registered"
	TypeRecipientDrop = "recipient.unregistered"
)

// CycleFinished is the payload of TypeCycleFinished.
type CycleFinished struct {
	CycleID  string
	Outcome  string
	NewItems int
	Sent     int
	Failed   int
	Duration time.Duration
	Err      string
}

// Delivery is the payload of TypeDeliverySent and TypeDeliveryFail.
type Delivery struct {
	CycleID     string
	RecipientID string
	ItemID      string
	Err         string
}

// Recipient is the payload of TypeRecipientAdd and TypeRecipientDrop.
type Recipient struct {
	RecipientID string
	Name        string
	Total       int
}
