package store

import (
	"time"

	"github.com/matheus3301/remotememo/internal/trust"
)

// Message sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Message is one reminder in the shared message set. JSON names follow the
// relay wire format.
type Message struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"senderId"`
	ReceiverID   string    `json:"receiverId"`
	ShortName    string    `json:"shortName"`
	Text         string    `json:"text"`
	AudioPayload string    `json:"audioBase64,omitempty"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Status       string    `json:"status"`
	Played       bool      `json:"played"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Hash         string    `json:"hash,omitempty"`
}

// Content returns the hashed projection of m.
func (m *Message) Content() trust.Content {
	return trust.Content{ID: m.ID, Status: m.Status, Text: m.Text, AudioPayload: m.AudioPayload}
}

// Rehash recomputes m.Hash from its current content.
func (m *Message) Rehash() {
	m.Hash = trust.HashMessage(m.Content())
}

// Contents projects a message list for ledger building.
func Contents(msgs []Message) []trust.Content {
	out := make([]trust.Content, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Content()
	}
	return out
}

// StatusEntry is one {id, status} pair of a status exchange.
type StatusEntry struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StoredBlock is a persisted block plus its local creation time. CreatedAt
// drives retention only; it is not part of the block hash.
type StoredBlock struct {
	trust.Block
	CreatedAt time.Time
}

// SyncLogEntry is a write-once journal record of one completed sync cycle.
type SyncLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	Peer      string    `json:"peer"`
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Deleted   int       `json:"deleted"`
	Reason    string    `json:"reason,omitempty"`
}

// StatusChange describes an applied status mutation.
type StatusChange struct {
	ID   string
	From string
	To   string
	Hash string
}
