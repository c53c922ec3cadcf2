package wasock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wasock/pairing"
	"github.com/opd-ai/wasock/store"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, pairing.ModeQR, opts.PairingMode)
	assert.Equal(t, 20*time.Second, opts.HandshakeTimeout)
	assert.Equal(t, time.Second, opts.ReconnectBackoff.Base)
	assert.Equal(t, 2*time.Minute, opts.ReconnectBackoff.Max)
	assert.Greater(t, opts.MaxSkippedKeys, 0)
}

func TestOptionsValidate(t *testing.T) {
	opts := NewOptions()
	assert.Error(t, opts.validate(), "endpoint and store are required")

	opts.Endpoint = "wss://example.test/ws"
	opts.Store = store.NewMemoryStore()
	assert.NoError(t, opts.validate())

	opts.ReconnectBackoff.Max = 0
	assert.Error(t, opts.validate())
}

func TestLoadOptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wasock.toml")
	conf := `
endpoint = "wss://gateway.example.test/ws"
platform = "linux"
authority = "4242424242424242424242424242424242424242424242424242424242424242"
pairing_mode = "code"
pairing_retries = 7
handshake_timeout = "10s"
credentials_path = "` + filepath.Join(t.TempDir(), "creds.json") + `"
backoff_base = "500ms"
backoff_max = "1m"
backoff_jitter = 0.25
max_skipped_keys = 200
debounce_window = "100ms"
`
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o600))

	opts, err := LoadOptionsFile(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://gateway.example.test/ws", opts.Endpoint)
	assert.Equal(t, "linux", opts.Platform)
	assert.Equal(t, byte(0x42), opts.Authority[0])
	assert.Equal(t, pairing.ModeCode, opts.PairingMode)
	assert.Equal(t, 7, opts.PairingRetries)
	assert.Equal(t, 10*time.Second, opts.HandshakeTimeout)
	assert.Equal(t, 500*time.Millisecond, opts.ReconnectBackoff.Base)
	assert.Equal(t, time.Minute, opts.ReconnectBackoff.Max)
	assert.Equal(t, 0.25, opts.ReconnectBackoff.Jitter)
	assert.Equal(t, 200, opts.MaxSkippedKeys)
	assert.Equal(t, 100*time.Millisecond, opts.DebounceWindow)
	assert.IsType(t, &store.FileStore{}, opts.Store)
	assert.NoError(t, opts.validate())
}

func TestLoadOptionsFileDefaultsPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wasock.toml")
	require.NoError(t, os.WriteFile(path, []byte(`endpoint = "wss://x.test/ws"`), 0o600))

	opts, err := LoadOptionsFile(path)
	require.NoError(t, err)
	assert.Equal(t, NewOptions().HandshakeTimeout, opts.HandshakeTimeout)
	assert.Equal(t, pairing.ModeQR, opts.PairingMode)
}

func TestLoadOptionsFileRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	badMode := filepath.Join(dir, "mode.toml")
	require.NoError(t, os.WriteFile(badMode, []byte(`pairing_mode = "carrier-pigeon"`), 0o600))
	_, err := LoadOptionsFile(badMode)
	assert.Error(t, err)

	badDuration := filepath.Join(dir, "dur.toml")
	require.NoError(t, os.WriteFile(badDuration, []byte(`handshake_timeout = "soon"`), 0o600))
	_, err = LoadOptionsFile(badDuration)
	assert.Error(t, err)

	badAuthority := filepath.Join(dir, "auth.toml")
	require.NoError(t, os.WriteFile(badAuthority, []byte(`authority = "abc"`), 0o600))
	_, err = LoadOptionsFile(badAuthority)
	assert.Error(t, err)
}
