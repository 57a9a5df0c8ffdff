package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"decoycall/messages"

	"github.com/gorilla/websocket"
)

// ErrNotConfigured means the relay refused the connection because it has no
// upstream credential. Distinct from transient connection failures so the UI
// can say "misconfigured" instead of "try again".
var ErrNotConfigured = errors.New("relay is not configured with an API key")

const writeTimeout = 10 * time.Second

// Transport is the client's WebSocket leg to the relay bridge. It satisfies
// the call session's duplex channel: sends are serialized, and received
// envelopes are dispatched in arrival order from a single read loop.
type Transport struct {
	conn *websocket.Conn

	onMessage func(*messages.ServerMessage)
	onClose   func(error)

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial connects to the relay and starts the read loop. onMessage receives
// every parsed envelope; onClose fires once when the channel dies, with nil
// for a clean close.
func Dial(ctx context.Context, url string, onMessage func(*messages.ServerMessage), onClose func(error)) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	t := &Transport{
		conn:      conn,
		onMessage: onMessage,
		onClose:   onClose,
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) readLoop() {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.dispatchClose(err)
			return
		}

		msg, err := messages.ParseServerMessage(raw)
		if err != nil {
			log.Printf("⚠️ transport: dropping unparseable message: %v", err)
			continue
		}
		t.onMessage(msg)
	}
}

// dispatchClose translates the read error into the taxonomy the caller
// understands and fires onClose exactly once.
func (t *Transport) dispatchClose(err error) {
	wasOpen := t.closed.CompareAndSwap(false, true)
	t.conn.Close()
	if !wasOpen || t.onClose == nil {
		return
	}

	switch {
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		t.onClose(ErrNotConfigured)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		t.onClose(nil)
	default:
		t.onClose(err)
	}
}

// SendAudio ships one base64 PCM16 chunk to the bridge
func (t *Transport) SendAudio(encodedPCM string) error {
	return t.send(messages.NewAudioInput(encodedPCM))
}

// SendTurnComplete tells the bridge the user's turn is over
func (t *Transport) SendTurnComplete() error {
	return t.send(messages.NewTurnComplete())
}

func (t *Transport) send(msg *messages.ClientMessage) error {
	if t.closed.Load() {
		return fmt.Errorf("transport closed")
	}
	data, err := messages.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the channel down cleanly. Idempotent.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	t.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}
