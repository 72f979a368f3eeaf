package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix ("sync.", "message.", "chain.").
const (
	KindSyncStatusChanged = "sync.status_changed"
	KindStatusSynced      = "sync.status_cycle"
	KindAppSync           = "sync.app_cycle"
	KindChainAppended     = "chain.appended"
	KindChainOverridden   = "chain.overridden"
	KindChainMismatch     = "chain.mismatch"
	KindMessageUpserted   = "message.upserted"
	KindMessageStatus     = "message.status_changed"
	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
