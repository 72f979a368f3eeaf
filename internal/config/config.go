// Package config loads and saves the TOML configuration files: the global
// ~/.remotememo/config.toml and the per-profile config.toml the daemon and
// relay run from.
package config

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/remotememo/internal/errors"
)

// Inbound channel kinds.
const (
	InboundLongPoll  = "longpoll"
	InboundWebsocket = "websocket"
)

// Duration is a time.Duration written as a Go duration string ("4s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Global represents ~/.remotememo/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Config is one profile's config.toml.
type Config struct {
	DeviceID           string `toml:"device_id"`
	PeerID             string `toml:"peer_id"`
	RelayURL           string `toml:"relay_url"`
	MessageExpiryHours int    `toml:"message_expiry_hours"`

	Sync      Sync      `toml:"sync"`
	Transport Transport `toml:"transport"`
	Relay     Relay     `toml:"relay"`
}

// Sync holds the scheduler cadences.
type Sync struct {
	StatusInterval   Duration `toml:"status_interval"`
	LedgerInterval   Duration `toml:"ledger_interval"`
	AppSyncInterval  Duration `toml:"app_sync_interval"`
	SubscribeTimeout Duration `toml:"subscribe_timeout"`
	MaxFailures      int      `toml:"max_failures"`
}

// Transport configures the relay client.
type Transport struct {
	Inbound        string   `toml:"inbound"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Relay configures memorelay.
type Relay struct {
	Listen        string   `toml:"listen"`
	MaxDevices    int      `toml:"max_devices"`
	DeviceTTL     Duration `toml:"device_ttl"`
	MailboxSize   int      `toml:"mailbox_size"`
	MessageCache  int      `toml:"message_cache"`
	RatePerSecond float64  `toml:"rate_per_second"`
	RateBurst     int      `toml:"rate_burst"`
}

// Default returns a configuration with every cadence and bound filled in.
// DeviceID, PeerID and RelayURL are left for the user.
func Default() *Config {
	return &Config{
		MessageExpiryHours: 24,
		Sync: Sync{
			StatusInterval:   Duration{4 * time.Second},
			LedgerInterval:   Duration{5 * time.Second},
			AppSyncInterval:  Duration{15 * time.Second},
			SubscribeTimeout: Duration{35 * time.Second},
			MaxFailures:      3,
		},
		Transport: Transport{
			Inbound:        InboundLongPoll,
			RequestTimeout: Duration{10 * time.Second},
		},
		Relay: DefaultRelay(),
	}
}

// DefaultRelay returns the relay server defaults.
func DefaultRelay() Relay {
	return Relay{
		Listen:        "0.0.0.0:3000",
		MaxDevices:    16,
		DeviceTTL:     Duration{10 * time.Minute},
		MailboxSize:   256,
		MessageCache:  1024,
		RatePerSecond: 20,
		RateBurst:     40,
	}
}

// Validate checks the fields the daemon needs to run.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return errors.WithHint(errors.New("device_id is required"), "run `memoctl device reset` to generate one")
	}
	if c.RelayURL == "" {
		return errors.New("relay_url is required")
	}
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return errors.Wrap(err, "relay_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("relay_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.MessageExpiryHours <= 0 {
		return errors.New("message_expiry_hours must be positive")
	}
	for name, d := range map[string]Duration{
		"sync.status_interval":      c.Sync.StatusInterval,
		"sync.ledger_interval":      c.Sync.LedgerInterval,
		"sync.app_sync_interval":    c.Sync.AppSyncInterval,
		"sync.subscribe_timeout":    c.Sync.SubscribeTimeout,
		"transport.request_timeout": c.Transport.RequestTimeout,
	} {
		if d.Duration <= 0 {
			return errors.Newf("%s must be positive", name)
		}
	}
	if c.Sync.MaxFailures <= 0 {
		return errors.New("sync.max_failures must be positive")
	}
	if c.Transport.Inbound != InboundLongPoll && c.Transport.Inbound != InboundWebsocket {
		return errors.Newf("transport.inbound must be %q or %q", InboundLongPoll, InboundWebsocket)
	}
	return nil
}

// Validate checks the relay server settings.
func (r *Relay) Validate() error {
	if r.Listen == "" {
		return errors.New("relay.listen is required")
	}
	if r.MaxDevices < 2 {
		return errors.New("relay.max_devices must allow at least two devices")
	}
	if r.DeviceTTL.Duration <= 0 || r.MailboxSize <= 0 || r.MessageCache <= 0 {
		return errors.New("relay bounds must be positive")
	}
	if r.RatePerSecond <= 0 || r.RateBurst <= 0 {
		return errors.New("relay rate limits must be positive")
	}
	return nil
}

// GenerateDeviceID returns a random six-digit device id.
func GenerateDeviceID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", errors.Wrap(err, "generate device id")
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Load reads a profile config, starting from Default so omitted keys keep
// their defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGlobal reads the global config.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Save writes cfg to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return write(path, cfg)
}

// SaveGlobal writes the global config.
func SaveGlobal(path string, g *Global) error {
	return write(path, g)
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Identity is who this device is and which device it pairs with.
type Identity struct {
	DeviceID string
	PeerID   string
}

// Identity returns the configured device identity.
func (c *Config) Identity() Identity {
	return Identity{DeviceID: c.DeviceID, PeerID: c.PeerID}
}
