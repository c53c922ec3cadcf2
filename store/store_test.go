package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wasock/crypto"
	"github.com/opd-ai/wasock/session"
)

func testCredentials(t *testing.T) *Credentials {
	t.Helper()

	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	account, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	spkPair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sig, err := account.Sign(spkPair.Public[:])
	require.NoError(t, err)
	otp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	return &Credentials{
		IdentityKey:      identity,
		RegistrationID:   4242,
		SignedPreKey:     &SignedPreKey{ID: 1, KeyPair: spkPair, Signature: sig},
		OneTimePreKeys:   []PreKey{{ID: 7, KeyPair: otp}},
		DeviceID:         "device-1",
		Platform:         "wasock-test",
		AccountSignature: account,
		Registered:       true,
		ServerStatic:     []byte{1, 2, 3, 4},
		Sessions: map[string]*session.State{
			"peer": {SendCount: 9, RecvCount: 4, HasSendChain: true},
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	fs := NewFileStore(path)

	creds := testCredentials(t)
	require.NoError(t, fs.Save(creds))

	loaded, err := fs.Load()
	require.NoError(t, err)
	assert.Equal(t, creds, loaded)
}

func TestFileStoreEmptyLoad(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

	creds, err := fs.Load()
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestFileStoreAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	fs := NewFileStore(path)

	require.NoError(t, fs.Save(testCredentials(t)))
	require.NoError(t, fs.Save(testCredentials(t)))

	// No temp files may survive a completed save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestFileStoreRejectsInvalid(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	err := fs.Save(&Credentials{})
	assert.Error(t, err)
}

func TestCredentialsClone(t *testing.T) {
	creds := testCredentials(t)
	clone := creds.Clone()

	require.Equal(t, creds, clone)

	// Mutating the clone must not touch the original.
	clone.IdentityKey.Private[0] ^= 0xFF
	clone.Sessions["peer"].SendCount = 100
	assert.NotEqual(t, creds.IdentityKey.Private, clone.IdentityKey.Private)
	assert.Equal(t, uint32(9), creds.Sessions["peer"].SendCount)
}

// countingStore counts Save calls to observe debouncing.
type countingStore struct {
	MemoryStore
	saves atomic.Int32
}

func (s *countingStore) Save(creds *Credentials) error {
	s.saves.Add(1)
	return s.MemoryStore.Save(creds)
}

func TestDebouncedWriterCoalesces(t *testing.T) {
	cs := &countingStore{}
	w := NewDebouncedWriter(cs, 50*time.Millisecond)
	defer w.Close()

	creds := testCredentials(t)
	for i := 0; i < 10; i++ {
		creds.Sessions["peer"].SendCount++
		w.Enqueue(creds)
	}

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, int32(1), cs.saves.Load(), "ten enqueues within the window coalesce into one write")

	loaded, err := cs.Load()
	require.NoError(t, err)
	assert.Equal(t, creds.Sessions["peer"].SendCount, loaded.Sessions["peer"].SendCount, "newest snapshot wins")
}

func TestDebouncedWriterBackgroundFlush(t *testing.T) {
	cs := &countingStore{}
	w := NewDebouncedWriter(cs, 20*time.Millisecond)
	defer w.Close()

	w.Enqueue(testCredentials(t))

	assert.Eventually(t, func() bool {
		return cs.saves.Load() == 1
	}, time.Second, 5*time.Millisecond, "timer should flush without an explicit Flush call")
}

func TestDebouncedWriterAnnouncesFlushes(t *testing.T) {
	cs := &countingStore{}
	w := NewDebouncedWriter(cs, 50*time.Millisecond)
	defer w.Close()

	var announced atomic.Int32
	var lastCount atomic.Uint32
	w.OnFlush = func(creds *Credentials) {
		announced.Add(1)
		lastCount.Store(creds.Sessions["peer"].SendCount)
	}

	creds := testCredentials(t)
	for i := 0; i < 10; i++ {
		creds.Sessions["peer"].SendCount++
		w.Enqueue(creds)
	}
	require.NoError(t, w.Flush(context.Background()))

	assert.Equal(t, int32(1), announced.Load(), "one announcement per durable write, not per enqueue")
	assert.Equal(t, creds.Sessions["peer"].SendCount, lastCount.Load(), "announcement carries the snapshot that reached disk")

	// Nothing pending: a second flush announces nothing.
	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, int32(1), announced.Load())
}

func TestDebouncedWriterFlushIsBarrier(t *testing.T) {
	cs := &countingStore{}
	w := NewDebouncedWriter(cs, time.Hour) // never fires on its own
	defer w.Close()

	w.Enqueue(testCredentials(t))
	require.NoError(t, w.Flush(context.Background()))

	loaded, err := cs.Load()
	require.NoError(t, err)
	assert.NotNil(t, loaded, "flush must complete the write before returning")
}
