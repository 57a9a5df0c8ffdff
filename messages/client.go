package messages

import "github.com/bytedance/sonic"

// Client → bridge message types
const (
	TypeAudioInput   = "audio_input"
	TypeTurnComplete = "turn_complete"
)

// ClientMessage is the envelope for everything the client sends to the bridge.
type ClientMessage struct {
	Type      string `json:"type"`
	AudioData string `json:"audioData,omitempty"` // Base64-encoded PCM16 at 16kHz
}

// NewAudioInput creates an audio chunk message
func NewAudioInput(encodedAudio string) *ClientMessage {
	return &ClientMessage{
		Type:      TypeAudioInput,
		AudioData: encodedAudio,
	}
}

// NewTurnComplete signals that the user's turn is over
func NewTurnComplete() *ClientMessage {
	return &ClientMessage{Type: TypeTurnComplete}
}

// ParseClientMessage decodes a raw client envelope
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Marshal serializes any envelope for the wire
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}
