package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the WebSocket subprotocol negotiated at dial time.
const Subprotocol = "wasock.v1"

// WebSocketConn adapts a message-oriented WebSocket connection into the
// duplex byte stream the frame codec expects. Reads drain one binary
// message at a time into an internal buffer; writes emit one binary
// message per call.
type WebSocketConn struct {
	conn    *websocket.Conn
	readBuf []byte
	mu      sync.Mutex
	closed  bool
}

// DialWebSocket opens a WebSocket connection to endpoint, negotiating the
// wasock subprotocol. The context bounds the dial.
func DialWebSocket(ctx context.Context, endpoint string) (*WebSocketConn, error) {
	logrus.WithFields(logrus.Fields{
		"function": "DialWebSocket",
		"endpoint": endpoint,
	}).Debug("Dialing WebSocket endpoint")

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "DialWebSocket",
		"endpoint":    endpoint,
		"subprotocol": conn.Subprotocol(),
	}).Info("WebSocket connection established")

	return &WebSocketConn{conn: conn}, nil
}

// Read implements io.Reader over incoming binary messages.
func (w *WebSocketConn) Read(p []byte) (int, error) {
	for len(w.readBuf) == 0 {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			// Text and control frames carry no session data.
			continue
		}
		w.readBuf = data
	}
	n := copy(p, w.readBuf)
	w.readBuf = w.readBuf[n:]
	return n, nil
}

// Write implements io.Writer, emitting one binary message per call.
func (w *WebSocketConn) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrConnClosed
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and tears down the underlying connection.
// Safe to call more than once.
func (w *WebSocketConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	deadline := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteMessage(websocket.CloseMessage, deadline)
	return w.conn.Close()
}
