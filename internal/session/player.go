package session

import (
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-tutor/internal/audio"
	"github.com/lexiqai/voice-tutor/internal/observability"
)

var errPlayerClosed = errors.New("session connection closed")

// clipPlayer plays clips on the client. A clip ends when the client sends
// clip_done for it, or when its duration plus grace has passed without one.
type clipPlayer struct {
	send     func(ServerMessage) error
	encoding audio.Encoding
	grace    time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	pending map[string]*pendingClip
	closed  bool
}

type pendingClip struct {
	done  func()
	timer *time.Timer
}

func newClipPlayer(send func(ServerMessage) error, enc audio.Encoding, grace time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *clipPlayer {
	return &clipPlayer{
		send:     send,
		encoding: enc,
		grace:    grace,
		logger:   logger,
		metrics:  metrics,
		pending:  make(map[string]*pendingClip),
	}
}

// Open fails once the connection is gone.
func (p *clipPlayer) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPlayerClosed
	}
	return nil
}

func (p *clipPlayer) Play(clip *audio.Clip, done func()) error {
	encoded, err := audio.EncodeClip(clip, p.encoding)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPlayerClosed
	}
	id := clip.ID
	p.pending[id] = &pendingClip{
		done:  done,
		timer: time.AfterFunc(clip.Duration()+p.grace, func() { p.finish(id, true) }),
	}
	p.mu.Unlock()

	err = p.send(ServerMessage{
		Event:      EventClip,
		ClipID:     id,
		Encoding:   string(encoded.Encoding),
		SampleRate: encoded.SampleRate,
		Channels:   encoded.Channels,
		Payload:    base64.StdEncoding.EncodeToString(encoded.Payload),
	})
	if err != nil {
		p.mu.Lock()
		if pc, ok := p.pending[id]; ok {
			pc.timer.Stop()
			delete(p.pending, id)
		}
		p.mu.Unlock()
		return err
	}

	p.metrics.RecordAudioBytes("out", int64(len(encoded.Payload)))
	p.logger.Debug().
		Str("clip_id", id).
		Str("encoding", string(encoded.Encoding)).
		Dur("duration", clip.Duration()).
		Msg("Clip sent")
	return nil
}

// Ack handles clip_done from the client.
func (p *clipPlayer) Ack(clipID string) {
	p.finish(clipID, false)
}

func (p *clipPlayer) finish(clipID string, timedOut bool) {
	p.mu.Lock()
	pc, ok := p.pending[clipID]
	delete(p.pending, clipID)
	p.mu.Unlock()

	if !ok {
		return
	}
	pc.timer.Stop()
	if timedOut {
		p.logger.Debug().Str("clip_id", clipID).Msg("No playback acknowledgement, assuming clip ended")
	}
	pc.done()
}

// Close abandons every clip still waiting for an acknowledgement.
func (p *clipPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for id, pc := range p.pending {
		pc.timer.Stop()
		delete(p.pending, id)
	}
}
