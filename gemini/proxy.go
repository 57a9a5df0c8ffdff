package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"

	"google.golang.org/genai"
)

// Proxy manages the upstream leg of the relay: one Live API session per
// call, speaking the Gemini realtime protocol so nothing else has to.
type Proxy struct {
	client *genai.Client
	model  string
	voice  string

	session *genai.Session

	// Callbacks for handling responses
	OnAudioRaw func(base64Data string) // synthesized 24kHz PCM, base64
	OnText     func(text string)
	OnComplete func()
	OnError    func(err error)

	mu     sync.RWMutex
	closed bool
}

// SetHandlers registers all response callbacks at once
func (gp *Proxy) SetHandlers(onAudio, onText func(string), onComplete func(), onError func(error)) {
	gp.OnAudioRaw = onAudio
	gp.OnText = onText
	gp.OnComplete = onComplete
	gp.OnError = onError
}

// NewProxy creates the API client; no connection is opened yet
func NewProxy(ctx context.Context, apiKey, model, voice string) (*Proxy, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Proxy{
		client: client,
		model:  model,
		voice:  voice,
	}, nil
}

// Setup opens the Live session and declares the audio modality, the
// synthesized voice and the caller persona. Returns once the upstream has
// accepted the setup, so callers can gate audio on it.
func (gp *Proxy) Setup(ctx context.Context, systemPrompt string) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return fmt.Errorf("proxy is closed")
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: systemPrompt},
			},
		},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: gp.voice,
				},
			},
		},
	}

	session, err := gp.client.Live.Connect(ctx, gp.model, config)
	if err != nil {
		return fmt.Errorf("failed to connect to Live API: %w", err)
	}

	gp.session = session
	log.Printf("✅ Connected to Gemini Live (%s, voice %s)", gp.model, gp.voice)
	return nil
}

// StartReceiving begins listening for Gemini responses. Message order is
// preserved: one goroutine receives and dispatches sequentially.
func (gp *Proxy) StartReceiving(ctx context.Context) {
	go func() {
		for {
			gp.mu.RLock()
			if gp.closed || gp.session == nil {
				gp.mu.RUnlock()
				return
			}
			session := gp.session
			gp.mu.RUnlock()

			// Receive blocks until a message arrives or error occurs
			resp, err := session.Receive()
			if err != nil {
				gp.mu.RLock()
				closed := gp.closed
				gp.mu.RUnlock()

				if !closed {
					log.Printf("❌ Gemini receive error: %v", err)
					if gp.OnError != nil {
						gp.OnError(err)
					}
				}
				return
			}

			gp.handleResponse(resp)
		}
	}()
}

func (gp *Proxy) handleResponse(resp *genai.LiveServerMessage) {
	if resp.ServerContent == nil {
		return
	}

	if resp.ServerContent.ModelTurn != nil {
		for _, part := range resp.ServerContent.ModelTurn.Parts {
			if part.Text != "" && gp.OnText != nil {
				gp.OnText(part.Text)
			}
			if part.InlineData != nil && gp.OnAudioRaw != nil {
				// SDK provides raw bytes; the client wire carries base64
				gp.OnAudioRaw(base64.StdEncoding.EncodeToString(part.InlineData.Data))
			}
		}
	}

	if resp.ServerContent.TurnComplete && gp.OnComplete != nil {
		gp.OnComplete()
	}
}

// SendAudioBase64 forwards one base64 PCM16 chunk as realtime input
func (gp *Proxy) SendAudioBase64(encodedAudio string) error {
	data, err := base64.StdEncoding.DecodeString(encodedAudio)
	if err != nil {
		return fmt.Errorf("invalid base64: %w", err)
	}
	return gp.sendRealtimeInput(data)
}

func (gp *Proxy) sendRealtimeInput(data []byte) error {
	gp.mu.RLock()
	session := gp.session
	closed := gp.closed
	gp.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("proxy is closed or not connected")
	}

	err := session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: "audio/pcm;rate=16000",
			Data:     data,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendTurnComplete signals that the user's audio stream has ended, which
// triggers Gemini to respond to the accumulated audio.
func (gp *Proxy) SendTurnComplete() error {
	gp.mu.RLock()
	session := gp.session
	closed := gp.closed
	gp.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("proxy is closed or not connected")
	}

	err := session.SendRealtimeInput(genai.LiveRealtimeInput{
		AudioStreamEnd: true,
	})
	if err != nil {
		return fmt.Errorf("failed to send audio stream end: %w", err)
	}
	return nil
}

// Close terminates the Gemini connection. Idempotent.
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true

	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
