package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"decoycall/config"
	"decoycall/gemini"
	"decoycall/messages"

	"github.com/gorilla/websocket"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Upstream is the AI-service leg of the relay. *gemini.Proxy implements it;
// tests substitute their own.
type Upstream interface {
	Setup(ctx context.Context, systemPrompt string) error
	StartReceiving(ctx context.Context)
	SetHandlers(onAudio, onText func(string), onComplete func(), onError func(error))
	SendAudioBase64(encoded string) error
	SendTurnComplete() error
	Close() error
}

// ClientSession pairs one client WebSocket with one upstream Gemini session.
// Its lifetime is the call: created on connect, destroyed on either leg
// closing. Closing one leg always closes the other.
type ClientSession struct {
	ID           string
	ClientConn   *websocket.Conn
	Proxy        Upstream
	CreatedAt    time.Time
	LastActivity time.Time

	// ready flips once the upstream has confirmed setup. Until then client
	// audio and turn messages are dropped, never queued.
	ready atomic.Bool

	// Use a channel for non-blocking writes
	writeChan chan *messages.ServerMessage

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession creates a session with a fresh upstream proxy. The
// upstream connection itself is not opened until Start.
func NewClientSession(ctx context.Context, id string, clientConn *websocket.Conn, cfg *config.Config) (*ClientSession, error) {
	proxy, err := gemini.NewProxy(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiVoice)
	if err != nil {
		return nil, err
	}
	return newSessionWithUpstream(id, clientConn, proxy), nil
}

func newSessionWithUpstream(id string, clientConn *websocket.Conn, upstream Upstream) *ClientSession {
	sessCtx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(512 * 1024) // 512KB max message
	clientConn.EnableWriteCompression(true)

	return &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		Proxy:        upstream,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		writeChan:    make(chan *messages.ServerMessage, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          sessCtx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling. The client read loop runs
// immediately so that pre-setup messages can be observed and dropped; the
// upstream connects in the background and announces setup_complete when
// ready.
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.setupGeminiCallbacks()
	go cs.connectUpstream()
	go cs.handleClientMessages()
}

// connectUpstream opens the Live API leg and gates the session on its setup
func (cs *ClientSession) connectUpstream() {
	if err := cs.Proxy.Setup(cs.ctx, DefaultSystemPrompt); err != nil {
		log.Printf("❌ [%s] Gemini setup failed: %v", cs.shortID(), err)
		cs.queueMessage(messages.NewError(cs.ID, messages.ErrCodeGeminiError, err.Error()))
		cs.Close()
		return
	}

	cs.Proxy.StartReceiving(cs.ctx)
	cs.ready.Store(true)
	cs.queueMessage(messages.NewSetupComplete(cs.ID))
	log.Printf("✅ [%s] Upstream ready, forwarding enabled", cs.shortID())
}

func (cs *ClientSession) setupGeminiCallbacks() {
	cs.Proxy.SetHandlers(
		func(base64Data string) {
			cs.queueMessage(messages.NewAudioResponse(cs.ID, base64Data))
		},
		func(text string) {
			cs.queueMessage(messages.NewTextResponse(cs.ID, text))
		},
		func() {
			cs.queueMessage(messages.NewServerTurnComplete(cs.ID))
		},
		func(err error) {
			log.Printf("❌ [%s] Gemini error: %v", cs.shortID(), err)
			cs.queueMessage(messages.NewError(cs.ID, messages.ErrCodeGeminiError, err.Error()))
			// a dropped upstream is terminal; no reconnection
			cs.Close()
		},
	)
}

// writePump handles all outgoing messages in a single goroutine, preserving
// send order end to end.
func (cs *ClientSession) writePump() {
	defer func() {
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg, ok := <-cs.writeChan:
			if !ok {
				return
			}
			if err := cs.writeMessage(msg); err != nil {
				return
			}
		}
	}
}

func (cs *ClientSession) writeMessage(msg *messages.ServerMessage) error {
	data, err := messages.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ [%s] Failed to marshal %s message: %v", cs.shortID(), msg.Type, err)
		return nil
	}
	cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking). The read
// lock is held across the send so Close cannot close writeChan underneath it.
func (cs *ClientSession) queueMessage(msg *messages.ServerMessage) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- msg:
	default:
		log.Printf("⚠️ [%s] Write queue full, dropping %s message", cs.shortID(), msg.Type)
	}
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		select {
		case <-cs.CloseChan:
			return
		default:
			_, raw, err := cs.ClientConn.ReadMessage()
			if err != nil {
				if !cs.IsClosed() {
					log.Printf("🔌 [%s] Client read ended: %v", cs.shortID(), err)
				}
				return
			}
			cs.touch()

			msg, err := messages.ParseClientMessage(raw)
			if err != nil {
				cs.queueMessage(messages.NewError(cs.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
				continue
			}

			cs.processClientMessage(msg)
		}
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeAudioInput:
		if !cs.ready.Load() {
			log.Printf("⚠️ [%s] Dropping audio received before setup completed", cs.shortID())
			return
		}
		if err := cs.Proxy.SendAudioBase64(msg.AudioData); err != nil {
			log.Printf("❌ [%s] Failed to forward audio: %v", cs.shortID(), err)
			cs.queueMessage(messages.NewError(cs.ID, messages.ErrCodeGeminiError, err.Error()))
		}

	case messages.TypeTurnComplete:
		if !cs.ready.Load() {
			log.Printf("⚠️ [%s] Dropping turn_complete received before setup completed", cs.shortID())
			return
		}
		if err := cs.Proxy.SendTurnComplete(); err != nil {
			log.Printf("❌ [%s] Failed to forward turn end: %v", cs.shortID(), err)
			cs.queueMessage(messages.NewError(cs.ID, messages.ErrCodeGeminiError, err.Error()))
		}

	default:
		log.Printf("⚠️ [%s] Dropping unknown message type %q", cs.shortID(), msg.Type)
		cs.queueMessage(messages.NewError(cs.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

// Close terminates both legs and cleans up resources. Idempotent; after it
// returns neither channel is left half-open.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	// Stop the write pump before touching the connection
	close(cs.writeChan)
	close(cs.CloseChan)
	cs.mu.Unlock()

	cs.cancel()

	if cs.Proxy != nil {
		cs.Proxy.Close()
	}
	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}

	return nil
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// Ready reports whether upstream setup has completed
func (cs *ClientSession) Ready() bool {
	return cs.ready.Load()
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.LastActivity = time.Now()
	cs.mu.Unlock()
}

func (cs *ClientSession) shortID() string {
	if len(cs.ID) >= 8 {
		return cs.ID[:8]
	}
	return cs.ID
}
