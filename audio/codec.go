package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrDecode marks a malformed inbound audio payload. Callers drop the one
// chunk and keep the stream alive.
var ErrDecode = errors.New("malformed audio payload")

// Sample rates of the two wire directions. Captured audio goes upstream at
// 16kHz; Gemini synthesizes at 24kHz.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// EncodePCM16 converts float samples in [-1,1] to base64-encoded
// little-endian PCM16. Out-of-range samples are clamped, not wrapped.
func EncodePCM16(samples []float32) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePCM16 converts a base64 payload back to raw PCM16 bytes. Malformed
// input yields an empty buffer and ErrDecode instead of a panic across the
// pipeline boundary.
func DecodePCM16(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return []byte{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

// WAVClip wraps raw PCM16 bytes in a WAV container (mono, 16-bit) so a
// generic decoder can play the chunk as a self-contained clip.
func WAVClip(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: pcm payload not aligned", ErrDecode)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   samples,
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.data, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch the header sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = int(pos)
	return pos, nil
}
