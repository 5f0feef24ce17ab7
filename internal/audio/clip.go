package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Synthesized speech arrives as 16-bit little-endian mono PCM at 24 kHz.
const (
	SpeechSampleRate = 24000
	SpeechChannels   = 1
)

var (
	ErrEmptyAudio   = errors.New("audio: empty payload")
	ErrOddLength    = errors.New("audio: PCM16 payload length must be even")
	ErrInvalidShape = errors.New("audio: sample rate and channel count must be positive")
)

// Clip is a decoded, playable unit of synthesized speech.
type Clip struct {
	ID         string
	Samples    []int16 // interleaved when Channels > 1
	SampleRate int
	Channels   int
}

// DecodeClip turns raw PCM16LE bytes into a Clip.
func DecodeClip(pcm []byte, sampleRate, channels int) (*Clip, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, ErrInvalidShape
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddLength, len(pcm))
	}

	return &Clip{
		ID:         uuid.NewString(),
		Samples:    BytesToSamples(pcm),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// Frames is the number of sample frames (samples per channel).
func (c *Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration is the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// PCM16 returns the clip as little-endian bytes.
func (c *Clip) PCM16() []byte {
	return SamplesToBytes(c.Samples)
}

// BytesToSamples reinterprets little-endian PCM16 bytes. A trailing odd byte
// is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
