package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end speech
	FrameSize       int     // Samples per frame
}

// DefaultVADConfig returns a 20ms-frame configuration for the given rate.
func DefaultVADConfig(sampleRate int) *VADConfig {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   40, // 800ms
		FrameSize:       sampleRate / 50,
	}
}

// VADEvent is a speech boundary reported by the detector.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStarted
	VADSpeechEnded
)

// VADDetector performs energy-based Voice Activity Detection over a stream
// of PCM16LE chunks of any size. It is not safe for concurrent use.
type VADDetector struct {
	config         *VADConfig
	pending        []int16
	silenceCounter int
	isSpeaking     bool
	heardSpeech    bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig(16000)
	}
	if config.FrameSize <= 0 {
		config.FrameSize = 320
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one frame of samples.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
			v.heardSpeech = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Process splits a PCM16LE chunk into frames, carrying any remainder to the
// next call, and returns the last boundary crossed.
func (v *VADDetector) Process(pcm []byte) VADEvent {
	v.pending = append(v.pending, BytesToSamples(pcm)...)

	event := VADNone
	for len(v.pending) >= v.config.FrameSize {
		_, started, ended := v.ProcessFrame(v.pending[:v.config.FrameSize])
		v.pending = v.pending[v.config.FrameSize:]
		switch {
		case ended:
			event = VADSpeechEnded
		case started:
			event = VADSpeechStarted
		}
	}
	return event
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.pending = v.pending[:0]
	v.silenceCounter = 0
	v.isSpeaking = false
	v.heardSpeech = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// HeardSpeech reports whether any speech was detected since the last Reset.
func (v *VADDetector) HeardSpeech() bool {
	return v.heardSpeech
}

// DetectSilence detects if audio samples represent silence
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
