package wasock

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/opd-ai/wasock/pairing"
	"github.com/opd-ai/wasock/session"
	"github.com/opd-ai/wasock/store"
)

// Options configures a Client.
type Options struct {
	// Endpoint is the WebSocket URL of the peer.
	Endpoint string

	// Platform identifies this device build, sent during the handshake.
	Platform string

	// Authority is the trusted platform Ed25519 key. Responder
	// certificates and pairing confirmations verify against it.
	Authority [32]byte

	// PairingMode selects QR or code presentation for first-time linking.
	PairingMode pairing.Mode

	// PairingRetries bounds reference rotations before pairing fails.
	PairingRetries int

	// HandshakeTimeout bounds the Noise exchange.
	HandshakeTimeout time.Duration

	// ReconnectBackoff shapes automatic reconnect delays.
	ReconnectBackoff Backoff

	// MaxSkippedKeys bounds the ratchet's out-of-order key cache.
	MaxSkippedKeys int

	// DebounceWindow coalesces credential writes after ratchet advances.
	DebounceWindow time.Duration

	// Store persists credentials. Required.
	Store store.Store
}

// NewOptions returns Options with sensible defaults. The caller still has
// to set Endpoint and Store.
func NewOptions() *Options {
	return &Options{
		Platform:         "wasock",
		PairingMode:      pairing.ModeQR,
		PairingRetries:   5,
		HandshakeTimeout: 20 * time.Second,
		ReconnectBackoff: Backoff{
			Base:   time.Second,
			Max:    2 * time.Minute,
			Jitter: 0.3,
		},
		MaxSkippedKeys: session.DefaultMaxSkipped,
		DebounceWindow: store.DefaultDebounceWindow,
	}
}

func (o *Options) validate() error {
	if o.Endpoint == "" {
		return fmt.Errorf("options: endpoint required")
	}
	if o.Store == nil {
		return fmt.Errorf("options: credential store required")
	}
	if o.ReconnectBackoff.Base <= 0 || o.ReconnectBackoff.Max < o.ReconnectBackoff.Base {
		return fmt.Errorf("options: invalid reconnect backoff")
	}
	return nil
}

// optionsFile is the on-disk TOML shape of Options.
type optionsFile struct {
	Endpoint         string  `toml:"endpoint"`
	Platform         string  `toml:"platform"`
	Authority        string  `toml:"authority"`
	PairingMode      string  `toml:"pairing_mode"`
	PairingRetries   int     `toml:"pairing_retries"`
	HandshakeTimeout string  `toml:"handshake_timeout"`
	CredentialsPath  string  `toml:"credentials_path"`
	BackoffBase      string  `toml:"backoff_base"`
	BackoffMax       string  `toml:"backoff_max"`
	BackoffJitter    float64 `toml:"backoff_jitter"`
	MaxSkippedKeys   int     `toml:"max_skipped_keys"`
	DebounceWindow   string  `toml:"debounce_window"`
}

// LoadOptionsFile reads a TOML configuration file and maps it onto Options.
// Omitted keys keep their NewOptions defaults. The authority key is hex
// encoded in the file.
func LoadOptionsFile(path string) (*Options, error) {
	var file optionsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("loading options from %s: %w", path, err)
	}

	opts := NewOptions()
	if file.Endpoint != "" {
		opts.Endpoint = file.Endpoint
	}
	if file.Platform != "" {
		opts.Platform = file.Platform
	}
	if file.Authority != "" {
		key, err := decodeHexKey(file.Authority)
		if err != nil {
			return nil, fmt.Errorf("options authority: %w", err)
		}
		opts.Authority = key
	}
	switch file.PairingMode {
	case "", "qr":
		opts.PairingMode = pairing.ModeQR
	case "code":
		opts.PairingMode = pairing.ModeCode
	default:
		return nil, fmt.Errorf("options: unknown pairing_mode %q", file.PairingMode)
	}
	if file.PairingRetries > 0 {
		opts.PairingRetries = file.PairingRetries
	}
	if file.MaxSkippedKeys > 0 {
		opts.MaxSkippedKeys = file.MaxSkippedKeys
	}
	if file.CredentialsPath != "" {
		opts.Store = store.NewFileStore(file.CredentialsPath)
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{file.HandshakeTimeout, &opts.HandshakeTimeout},
		{file.BackoffBase, &opts.ReconnectBackoff.Base},
		{file.BackoffMax, &opts.ReconnectBackoff.Max},
		{file.DebounceWindow, &opts.DebounceWindow},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("options: bad duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	if file.BackoffJitter > 0 {
		opts.ReconnectBackoff.Jitter = file.BackoffJitter
	}

	return opts, nil
}

func decodeHexKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 key bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
