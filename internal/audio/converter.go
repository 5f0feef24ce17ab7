package audio

import (
	"fmt"
	"math"
	"strings"

	"github.com/zaf/g711"
)

// Encoding is a wire format for clips sent to a session client.
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16"
	EncodingMulaw    Encoding = "mulaw"
)

// MulawSampleRate is the G.711 telephony rate.
const MulawSampleRate = 8000

// ParseEncoding maps a client-supplied name to an Encoding. Empty means linear16.
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(name))) {
	case "", EncodingLinear16:
		return EncodingLinear16, nil
	case EncodingMulaw, "pcmu", "ulaw":
		return EncodingMulaw, nil
	default:
		return "", fmt.Errorf("unsupported audio encoding %q", name)
	}
}

// Encoded is a clip rendered for transport.
type Encoded struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	Payload    []byte
}

// EncodeClip renders clip in the requested wire encoding. µ-law output is
// downmixed to mono and resampled to 8 kHz.
func EncodeClip(clip *Clip, enc Encoding) (*Encoded, error) {
	if clip == nil || len(clip.Samples) == 0 {
		return nil, ErrEmptyAudio
	}

	switch enc {
	case EncodingLinear16, "":
		return &Encoded{
			Encoding:   EncodingLinear16,
			SampleRate: clip.SampleRate,
			Channels:   clip.Channels,
			Payload:    clip.PCM16(),
		}, nil

	case EncodingMulaw:
		mono := DownmixToMono(clip.Samples, clip.Channels)
		payload, err := ConvertPCMToPCMU(SamplesToBytes(mono), clip.SampleRate, MulawSampleRate)
		if err != nil {
			return nil, err
		}
		return &Encoded{
			Encoding:   EncodingMulaw,
			SampleRate: MulawSampleRate,
			Channels:   1,
			Payload:    payload,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", enc)
	}
}

// ConvertPCMToPCMU converts linear PCM16LE to G.711 µ-law, resampling first.
func ConvertPCMToPCMU(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(pcmData)%2 != 0 {
		return nil, ErrOddLength
	}

	samples := Resample(BytesToSamples(pcmData), inputSampleRate, outputSampleRate)
	return g711.EncodeUlaw(SamplesToBytes(samples)), nil
}

// ConvertPCMUToPCM converts G.711 µ-law to linear PCM16LE.
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, ErrEmptyAudio
	}
	return g711.DecodeUlaw(pcmuData), nil
}

// DecodeInput turns client microphone audio into PCM16LE mono at outputRate.
// linear16 input is expected at outputRate already; µ-law input is 8 kHz.
func DecodeInput(payload []byte, enc Encoding, outputRate int) ([]byte, error) {
	switch enc {
	case EncodingLinear16, "":
		if len(payload)%2 != 0 {
			return nil, ErrOddLength
		}
		return payload, nil

	case EncodingMulaw:
		pcm, err := ConvertPCMUToPCM(payload)
		if err != nil {
			return nil, err
		}
		if outputRate == MulawSampleRate {
			return pcm, nil
		}
		return SamplesToBytes(Resample(BytesToSamples(pcm), MulawSampleRate, outputRate)), nil

	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", enc)
	}
}

// Resample performs linear interpolation resampling of mono samples.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	outputLength := len(samples) * outputRate / inputRate
	output := make([]int16, outputLength)
	step := float64(inputRate) / float64(outputRate)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) * step

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// DownmixToMono averages interleaved channels.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	out := make([]int16, len(samples)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
