package noise

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wasock/crypto"
)

type testIdentity struct {
	clientKey *crypto.KeyPair
	serverKey *crypto.KeyPair
	authority *crypto.SigningKeyPair
	certChain []Certificate
}

func newTestIdentity(t *testing.T) *testIdentity {
	t.Helper()

	clientKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	serverKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	authority, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)

	leaf, err := NewCertificate(CertificateDetails{
		Serial:    1,
		Issuer:    "wasock-test-platform",
		StaticKey: serverKey.Public[:],
	}, authority)
	require.NoError(t, err)

	return &testIdentity{
		clientKey: clientKey,
		serverKey: serverKey,
		authority: authority,
		certChain: []Certificate{leaf},
	}
}

// runHandshake drives both engine roles over an in-memory pipe.
func runHandshake(t *testing.T, client, server *Engine) (*Result, *Result, error, error) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type outcome struct {
		result *Result
		err    error
	}
	serverCh := make(chan outcome, 1)
	go func() {
		r, err := server.Perform(context.Background(), serverConn)
		serverCh <- outcome{r, err}
	}()

	clientResult, clientErr := client.Perform(context.Background(), clientConn)
	serverOutcome := <-serverCh
	return clientResult, serverOutcome.result, clientErr, serverOutcome.err
}

func TestXXHandshakeFirstContact(t *testing.T) {
	id := newTestIdentity(t)

	client, err := NewEngine(Config{
		Role:       Initiator,
		StaticPriv: id.clientKey.Private,
		Authority:  id.authority.Public,
		Platform:   "test-device",
	})
	require.NoError(t, err)
	assert.Equal(t, PatternXX, client.Pattern())

	server, err := NewEngine(Config{
		Role:       Responder,
		StaticPriv: id.serverKey.Private,
		CertChain:  id.certChain,
	})
	require.NoError(t, err)

	clientResult, serverResult, clientErr, serverErr := runHandshake(t, client, server)
	require.NoError(t, clientErr)
	require.NoError(t, serverErr)

	// Each side learned the other's static key.
	assert.Equal(t, id.serverKey.Public[:], clientResult.RemoteStatic)
	assert.Equal(t, id.clientKey.Public[:], serverResult.RemoteStatic)
	assert.Equal(t, "test-device", serverResult.Platform)

	// The derived transport keys form a working channel in both directions.
	ct, err := clientResult.Keys.EncryptFrame([]byte("client to server"))
	require.NoError(t, err)
	pt, err := serverResult.Keys.DecryptFrame(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("client to server"), pt)

	ct, err = serverResult.Keys.EncryptFrame([]byte("server to client"))
	require.NoError(t, err)
	pt, err = clientResult.Keys.DecryptFrame(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("server to client"), pt)
}

func TestIKHandshakeResume(t *testing.T) {
	id := newTestIdentity(t)

	client, err := NewEngine(Config{
		Role:       Initiator,
		StaticPriv: id.clientKey.Private,
		PeerStatic: id.serverKey.Public[:],
		Authority:  id.authority.Public,
	})
	require.NoError(t, err)
	assert.Equal(t, PatternIK, client.Pattern())

	server, err := NewEngine(Config{
		Role:       Responder,
		StaticPriv: id.serverKey.Private,
		CertChain:  id.certChain,
		Resume:     true,
	})
	require.NoError(t, err)

	clientResult, serverResult, clientErr, serverErr := runHandshake(t, client, server)
	require.NoError(t, clientErr)
	require.NoError(t, serverErr)

	ct, err := clientResult.Keys.EncryptFrame([]byte("resumed session"))
	require.NoError(t, err)
	pt, err := serverResult.Keys.DecryptFrame(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("resumed session"), pt)
}

func TestHandshakeRejectsForgedCertChain(t *testing.T) {
	id := newTestIdentity(t)

	// The server presents a chain signed by an authority the client does
	// not trust.
	rogue, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	forged, err := NewCertificate(CertificateDetails{
		Serial:    1,
		Issuer:    "rogue",
		StaticKey: id.serverKey.Public[:],
	}, rogue)
	require.NoError(t, err)

	client, err := NewEngine(Config{
		Role:       Initiator,
		StaticPriv: id.clientKey.Private,
		Authority:  id.authority.Public,
	})
	require.NoError(t, err)

	server, err := NewEngine(Config{
		Role:       Responder,
		StaticPriv: id.serverKey.Private,
		CertChain:  []Certificate{forged},
	})
	require.NoError(t, err)

	_, _, clientErr, _ := runHandshake(t, client, server)
	require.Error(t, clientErr)

	var hsErr *HandshakeError
	require.ErrorAs(t, clientErr, &hsErr)
	assert.Equal(t, ReasonSignature, hsErr.Reason)
	assert.False(t, hsErr.Reason.Retryable())
}

func TestHandshakeTimeoutIsRetryable(t *testing.T) {
	id := newTestIdentity(t)

	client, err := NewEngine(Config{
		Role:       Initiator,
		StaticPriv: id.clientKey.Private,
		Authority:  id.authority.Public,
		Timeout:    50 * time.Millisecond,
	})
	require.NoError(t, err)

	// A peer that never answers.
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := serverConn.Read(buf); err != nil {
				return
			}
		}
	}()

	_, err = client.Perform(context.Background(), clientConn)
	require.Error(t, err)

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, ReasonTimeout, hsErr.Reason)
	assert.True(t, hsErr.Reason.Retryable())
}

func TestHandshakeMalformedResponse(t *testing.T) {
	id := newTestIdentity(t)

	client, err := NewEngine(Config{
		Role:       Initiator,
		StaticPriv: id.clientKey.Private,
		PeerStatic: id.serverKey.Public[:],
		Authority:  id.authority.Public,
		Timeout:    time.Second,
	})
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	// A peer that answers with garbage instead of a Noise message.
	go func() {
		buf := make([]byte, 4096)
		if _, err := serverConn.Read(buf); err != nil {
			return
		}
		garbage := []byte{0x00, 0x00, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
		_, _ = serverConn.Write(garbage)
	}()

	_, err = client.Perform(context.Background(), clientConn)
	require.Error(t, err)

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, ReasonMalformed, hsErr.Reason)
	assert.False(t, hsErr.Reason.Retryable())
}

func TestNewEngineResponderRequiresCertChain(t *testing.T) {
	id := newTestIdentity(t)
	_, err := NewEngine(Config{
		Role:       Responder,
		StaticPriv: id.serverKey.Private,
	})
	assert.Error(t, err)
}

func TestVerifyCertChain(t *testing.T) {
	id := newTestIdentity(t)

	err := VerifyCertChain(id.certChain, id.authority.Public, id.serverKey.Public[:])
	assert.NoError(t, err)

	// Wrong static key covered by the leaf.
	other, err2 := crypto.GenerateKeyPair()
	require.NoError(t, err2)
	err = VerifyCertChain(id.certChain, id.authority.Public, other.Public[:])
	assert.Error(t, err)

	// Empty chain.
	err = VerifyCertChain(nil, id.authority.Public, id.serverKey.Public[:])
	assert.Error(t, err)
}
