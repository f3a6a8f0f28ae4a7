package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/metrics"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/pcm"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/transport"
)

// PipelineConfig tunes one capture-to-backend stream.
type PipelineConfig struct {
	Source           domain.Source
	Audio            ports.AudioConfig
	TargetSampleRate int
	FrameSamples     int
	FrameQueueDepth  int
	ReadChunkBytes   int
	Backoff          transport.BackoffConfig
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.TargetSampleRate == 0 {
		c.TargetSampleRate = 16000
	}
	if c.FrameSamples == 0 {
		c.FrameSamples = 128
	}
	if c.FrameQueueDepth == 0 {
		c.FrameQueueDepth = 64
	}
	if c.ReadChunkBytes == 0 {
		c.ReadChunkBytes = 4096
	}
	return c
}

// StreamPipeline binds one audio capture session to one managed backend
// connection: raw float samples in, 16-bit PCM frames out, transcripts back.
// Pause suspends the capture process while the socket stays open, so resuming
// costs nothing.
type StreamPipeline struct {
	cfg        PipelineConfig
	capture    ports.AudioCapture
	controller *transport.Controller
	events     ports.EventSink
	finals     ports.TranscriptConsumer
	mx         *metrics.Metrics
	log        *slog.Logger

	mu       sync.Mutex
	state    domain.PipelineState
	notified domain.PipelineState
	paused   bool
	session  ports.AudioSession
	encoder  *pcm.FrameEncoder
	pumpDone chan struct{}
	sendDone chan struct{}
}

// NewStreamPipeline builds a pipeline for one source. Final transcripts are
// handed to finals (typically the deduplicator); interims go straight to the
// event sink.
func NewStreamPipeline(
	cfg PipelineConfig,
	capture ports.AudioCapture,
	sessions transport.Factory,
	events ports.EventSink,
	finals ports.TranscriptConsumer,
	mx *metrics.Metrics,
	log *slog.Logger,
) *StreamPipeline {
	p := &StreamPipeline{
		cfg:     cfg.withDefaults(),
		capture: capture,
		events:  events,
		finals:  finals,
		mx:      mx,
		log:     log.With("source", string(cfg.Source)),
		state:   domain.StateIdle,
	}
	p.controller = transport.NewController(p.cfg.Source, p.cfg.Backoff, sessions, transport.StatusHooks{
		OnState:        p.onControllerState,
		OnTranscript:   p.onTranscript,
		OnReconnecting: p.onReconnecting,
		OnRestored:     p.onRestored,
		OnTerminal:     p.onTerminal,
	}, log)
	return p
}

// Start acquires the capture device first (so permission problems surface
// before any network work), then connects, then begins pumping samples.
func (p *StreamPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != domain.StateIdle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("pipeline for %s already started (state %s)", p.cfg.Source, state)
	}
	p.state = domain.StateConnecting
	p.mu.Unlock()

	session, err := p.capture.Start(ctx, p.cfg.Audio)
	if err != nil {
		p.fail(err)
		return err
	}

	resampler, err := pcm.NewResampler(p.cfg.Audio.SampleRate, p.cfg.TargetSampleRate)
	if err != nil {
		_ = session.Stop()
		err = domain.WrapError(domain.ErrConfiguration, p.cfg.Source, fmt.Errorf("build resampler: %w", err))
		p.fail(err)
		return err
	}

	if err := p.controller.Start(ctx); err != nil {
		_ = session.Stop()
		_ = resampler.Close()
		p.fail(err)
		return err
	}

	encoder := pcm.NewFrameEncoder(p.cfg.FrameSamples, p.cfg.FrameQueueDepth)
	pumpDone := make(chan struct{})
	sendDone := make(chan struct{})

	p.mu.Lock()
	p.session = session
	p.encoder = encoder
	p.pumpDone = pumpDone
	p.sendDone = sendDone
	p.mu.Unlock()

	go p.pump(session, resampler, encoder, pumpDone)
	go p.sendFrames(encoder, sendDone)
	return nil
}

// Pause suspends sample production. The backend connection stays up, so
// heartbeats keep flowing and Resume is instant.
func (p *StreamPipeline) Pause() error {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return nil
	}
	if p.state != domain.StateActive {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("cannot pause %s stream in state %s", p.cfg.Source, state)
	}
	session := p.session
	p.paused = true
	p.state = domain.StatePaused
	p.mu.Unlock()

	if err := session.Pause(); err != nil {
		return err
	}
	p.controller.SetPaused(true)
	p.notifyState(domain.StatePaused)
	return nil
}

// Resume restarts sample production after Pause.
func (p *StreamPipeline) Resume() error {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return nil
	}
	session := p.session
	p.paused = false
	p.state = domain.StateActive
	p.mu.Unlock()

	if err := session.Resume(); err != nil {
		return err
	}
	p.controller.SetPaused(false)
	p.notifyState(domain.StateActive)
	return nil
}

// Stop tears the pipeline down in reverse start order: network first so the
// backend sees a clean closure, then the capture process, then the pumps.
// forced skips the polite close handshake. Idempotent.
func (p *StreamPipeline) Stop(forced bool) error {
	p.mu.Lock()
	if p.state == domain.StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = domain.StateStopped
	p.paused = false
	session := p.session
	p.session = nil
	pumpDone := p.pumpDone
	sendDone := p.sendDone
	p.mu.Unlock()

	p.controller.Stop(forced)

	var errs []error
	if session != nil {
		if err := session.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if pumpDone != nil {
		<-pumpDone
	}
	if sendDone != nil {
		<-sendDone
	}

	p.notifyState(domain.StateStopped)
	return errors.Join(errs...)
}

// State reports the pipeline's lifecycle state.
func (p *StreamPipeline) State() domain.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats exposes the connection controller's counters.
func (p *StreamPipeline) Stats() transport.Stats {
	return p.controller.Stats()
}

// pump reads raw little-endian float32 samples from the capture session,
// resamples them to the backend rate and feeds the frame encoder. Reads may
// split a 4-byte sample across chunks, so a remainder is carried over.
func (p *StreamPipeline) pump(session ports.AudioSession, resampler *pcm.Resampler, encoder *pcm.FrameEncoder, done chan struct{}) {
	defer close(done)
	defer encoder.Close()
	defer func() { _ = resampler.Close() }()

	buf := make([]byte, p.cfg.ReadChunkBytes)
	var pending []byte
	for {
		n, err := session.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete := len(pending) - len(pending)%4
			if complete > 0 {
				samples := pcm.DecodeFloat32(pending[:complete])
				pending = append(pending[:0], pending[complete:]...)
				out, rerr := resampler.Process(samples)
				if rerr != nil {
					p.log.Error("resampler failed, stopping audio pump", "error", rerr)
					return
				}
				encoder.Push(out)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.stopped() {
				p.log.Warn("capture read ended", "error", err)
			}
			return
		}
	}
}

// sendFrames drains encoded frames into the connection controller. The
// controller drops frames while no session is active, so this loop never
// blocks on the network.
func (p *StreamPipeline) sendFrames(encoder *pcm.FrameEncoder, done chan struct{}) {
	defer close(done)
	for frame := range encoder.Frames() {
		payload := pcm.FrameBytes(frame)
		p.controller.Send(payload)
		p.mx.ObserveFrame(p.cfg.Source, len(payload))
	}
	p.mx.ObserveDropped(p.cfg.Source, encoder.Dropped())
}

func (p *StreamPipeline) onControllerState(state domain.PipelineState) {
	p.mu.Lock()
	// Pause is a local overlay; the controller keeps the socket Active
	// underneath it and its transitions must not clobber the paused view.
	if p.paused && state == domain.StateActive {
		p.mu.Unlock()
		return
	}
	if p.state == domain.StateStopped && state != domain.StateStopped {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.mu.Unlock()
	p.notifyState(state)
}

func (p *StreamPipeline) onTranscript(text string, isFinal bool) {
	p.mx.ObserveTranscript(p.cfg.Source, isFinal)
	if !isFinal {
		p.events.InterimTranscript(p.cfg.Source, text)
		return
	}
	p.finals.Consume(domain.TranscriptEvent{
		Source:    p.cfg.Source,
		Text:      text,
		IsFinal:   true,
		Timestamp: time.Now(),
	})
}

func (p *StreamPipeline) onReconnecting(attempt int) {
	p.mx.ObserveReconnect(p.cfg.Source)
	p.events.Reconnecting(p.cfg.Source, attempt)
}

func (p *StreamPipeline) onRestored() {
	p.events.Restored(p.cfg.Source)
}

// onTerminal runs when the controller gives up for good. The capture process
// must not keep the OS recording indicator lit after that.
func (p *StreamPipeline) onTerminal(err error) {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.mu.Unlock()
	if session != nil {
		_ = session.Stop()
	}
	p.mx.ObserveError(p.cfg.Source, err)
	p.events.StreamError(p.cfg.Source, err)
}

func (p *StreamPipeline) fail(err error) {
	p.mu.Lock()
	p.state = domain.StateFailed
	p.mu.Unlock()
	p.mx.ObserveError(p.cfg.Source, err)
	p.notifyState(domain.StateFailed)
	p.events.StreamError(p.cfg.Source, err)
}

func (p *StreamPipeline) stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == domain.StateStopped
}

// notifyState publishes a transition at most once per distinct state, so the
// controller's own emissions and the pipeline's explicit ones never double up.
func (p *StreamPipeline) notifyState(state domain.PipelineState) {
	p.mu.Lock()
	if p.notified == state {
		p.mu.Unlock()
		return
	}
	p.notified = state
	p.mu.Unlock()
	p.mx.ObserveState(p.cfg.Source, state)
	p.events.StreamStatusChanged(p.cfg.Source, state)
}
