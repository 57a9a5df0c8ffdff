package messages

import "github.com/bytedance/sonic"

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeNotConfigured    = "NOT_CONFIGURED"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
)

// Bridge → client message types
const (
	TypeSetupComplete = "setup_complete"
	TypeAudioResponse = "audio_response"
	TypeTextResponse  = "text_response"
	TypeError         = "error"
)

// MimeTypePCM24k tags synthesized audio responses. Gemini always answers
// with 24kHz PCM regardless of the input rate.
const MimeTypePCM24k = "audio/pcm;rate=24000"

// ServerMessage is the envelope for everything the bridge sends to the client.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	AudioData string `json:"audioData,omitempty"` // Base64-encoded PCM16 at 24kHz
	MimeType  string `json:"mimeType,omitempty"`
	Text      string `json:"text,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewSetupComplete tells the client the upstream session is ready for audio
func NewSetupComplete(sessionID string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeSetupComplete,
		SessionID: sessionID,
	}
}

// NewAudioResponse creates an AI audio chunk message
func NewAudioResponse(sessionID, encodedAudio string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudioResponse,
		SessionID: sessionID,
		AudioData: encodedAudio,
		MimeType:  MimeTypePCM24k,
	}
}

// NewTextResponse creates a transcript message
func NewTextResponse(sessionID, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTextResponse,
		SessionID: sessionID,
		Text:      text,
	}
}

// NewServerTurnComplete signals that the AI finished its turn
func NewServerTurnComplete(sessionID string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTurnComplete,
		SessionID: sessionID,
	}
}

// NewError creates a typed error message
func NewError(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Code:      code,
		Error:     message,
	}
}

// ParseServerMessage decodes a raw bridge envelope
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
