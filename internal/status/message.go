// Package status holds the message status lifecycle shared by both sync
// protocols and the ledger sync indicator state machine.
package status

// Message status values as they appear on the wire.
const (
	Unread         = "unread"
	NotDelivered   = "not_delivered"
	Pending        = "pending"
	Delivered      = "delivered"
	Received       = "received"
	Played         = "played"
	Read           = "read"
	AlertTriggered = "alert_triggered"
	AlertConfirmed = "alert_confirmed"
	DeletedByPeer  = "deleted_by_peer"
)

var known = map[string]bool{
	Unread: true, NotDelivered: true, Pending: true, Delivered: true,
	Received: true, Played: true, Read: true,
	AlertTriggered: true, AlertConfirmed: true, DeletedByPeer: true,
}

// Valid reports whether s is a known message status.
func Valid(s string) bool {
	return known[s]
}

// Terminal reports whether no further transition is allowed out of s.
func Terminal(s string) bool {
	return s == DeletedByPeer
}

// Undelivered reports whether s means the receiver has not seen the message yet.
func Undelivered(s string) bool {
	return s == Unread || s == NotDelivered || s == Pending
}

// CanApply reports whether a peer-reported status may overwrite the local one.
// Peer status wins without precedence comparison; only the tombstone is final.
func CanApply(local, incoming string) bool {
	if incoming == "" {
		return false
	}
	if Terminal(local) {
		return local == incoming
	}
	return true
}
