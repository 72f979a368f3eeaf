package api

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/remotememo/internal/errors"
)

// Status is the GetStatus body.
type Status struct {
	Profile        string            `json:"profile"`
	DeviceID       string            `json:"device_id"`
	PeerID         string            `json:"peer_id"`
	RelayURL       string            `json:"relay_url"`
	Indicator      string            `json:"indicator"`
	StatusSynced   bool              `json:"status_synced"`
	LedgerFailures int               `json:"ledger_failures"`
	Messages       int               `json:"messages"`
	Blocks         int               `json:"blocks"`
	TipBlock       int64             `json:"tip_block"`
	TipHash        string            `json:"tip_hash"`
	Checkpoints    map[string]string `json:"checkpoints"`
	UptimeMS       int64             `json:"uptime_ms"`
}

// SyncReport is the ForceSync body.
type SyncReport struct {
	Success     bool     `json:"success"`
	Updated     []string `json:"updated"`
	Redelivered int      `json:"redelivered"`
	Reason      string   `json:"reason"`
}

// ChainReport is the VerifyChain body.
type ChainReport struct {
	Valid  bool   `json:"valid"`
	Blocks int    `json:"blocks"`
	Error  string `json:"error,omitempty"`
}

// Draft is the SendMessage body.
type Draft struct {
	ReceiverID   string `json:"receiverId,omitempty"`
	ShortName    string `json:"shortName"`
	Text         string `json:"text,omitempty"`
	AudioPayload string `json:"audioBase64,omitempty"`
	Date         string `json:"date,omitempty"`
	Time         string `json:"time,omitempty"`
}

// Event is one bus event streamed by WatchEvents.
type Event struct {
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// list wraps repeated values; Struct bodies must be objects.
type list[T any] struct {
	Items []T `json:"items"`
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode body")
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, errors.Wrap(err, "build struct")
	}
	return s, nil
}

// fromStruct decodes a Struct into v.
func fromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "read struct")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}
