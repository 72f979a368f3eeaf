// Package transport is the device side of the relay protocol: a JSON HTTP
// client for the request/response endpoints plus the inbound channel
// (long-poll or websocket) that delivers relayed messages and blocks.
package transport

import (
	"strings"

	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/trust"
)

// Envelope kinds.
const (
	KindMessage = "message"
	KindBlock   = "block"
)

// Envelope is one inbound item queued by the relay for a device.
type Envelope struct {
	Kind     string         `json:"kind"`
	SenderID string         `json:"senderId"`
	Message  *store.Message `json:"message,omitempty"`
	Block    *trust.Block   `json:"block,omitempty"`
}

// StatusSyncRequest is the body of POST /sync.
type StatusSyncRequest struct {
	DeviceID      string              `json:"deviceId"`
	KnownStatuses []store.StatusEntry `json:"knownStatuses"`
}

// StatusSyncResponse is the reply of POST /sync. StatusUpdates is a pointer
// so a reply without the field can be told apart from an empty list.
type StatusSyncResponse struct {
	StatusUpdates *[]store.StatusEntry `json:"statusUpdates"`
	PeerFound     bool                `json:"peerFound"`
}

// LedgerSyncRequest is the body of POST /ledger-sync.
type LedgerSyncRequest struct {
	SenderID string       `json:"senderId"`
	Block    *trust.Block `json:"block"`
}

// LedgerSyncResponse carries the counterpart's latest block, or null.
type LedgerSyncResponse struct {
	Block *trust.Block `json:"block"`
}

// RelayAck is the reply of POST /messages.
type RelayAck struct {
	Message string `json:"message"`
}

// ErrorBody is the JSON error shape the relay returns.
type ErrorBody struct {
	Error string `json:"error"`
}

// WebsocketURL converts an http(s) base URL to its ws(s) form.
func WebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
