package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

// DualStreamOrchestrator runs the microphone and system-loopback pipelines as
// one unit. The streams are independent failure domains: one stream losing its
// device or connection never takes the other down, and lifecycle fan-out is
// concurrent so a slow stream cannot stall its sibling.
type DualStreamOrchestrator struct {
	pipelines map[domain.Source]*StreamPipeline
	log       *slog.Logger
}

// NewDualStreamOrchestrator pairs the two pipelines. Both must be built for
// their respective sources already.
func NewDualStreamOrchestrator(mic, system *StreamPipeline, log *slog.Logger) *DualStreamOrchestrator {
	return &DualStreamOrchestrator{
		pipelines: map[domain.Source]*StreamPipeline{
			domain.SourceMic:    mic,
			domain.SourceSystem: system,
		},
		log: log,
	}
}

// StartBoth starts both streams concurrently. Errors are collected per source;
// a partial start is reported but the surviving stream keeps running.
func (o *DualStreamOrchestrator) StartBoth(ctx context.Context) error {
	return o.fanOut("start", func(p *StreamPipeline) error {
		return p.Start(ctx)
	})
}

// PauseBoth suspends both capture sessions.
func (o *DualStreamOrchestrator) PauseBoth() error {
	return o.fanOut("pause", (*StreamPipeline).Pause)
}

// ResumeBoth resumes both capture sessions.
func (o *DualStreamOrchestrator) ResumeBoth() error {
	return o.fanOut("resume", (*StreamPipeline).Resume)
}

// StopBoth tears both streams down. forced skips the polite close handshake
// on the backend connections.
func (o *DualStreamOrchestrator) StopBoth(forced bool) error {
	return o.fanOut("stop", func(p *StreamPipeline) error {
		return p.Stop(forced)
	})
}

// States reports the lifecycle state of each stream.
func (o *DualStreamOrchestrator) States() map[domain.Source]domain.PipelineState {
	states := make(map[domain.Source]domain.PipelineState, len(o.pipelines))
	for source, p := range o.pipelines {
		states[source] = p.State()
	}
	return states
}

// Running reports whether at least one stream is in a non-terminal state.
func (o *DualStreamOrchestrator) Running() bool {
	for _, p := range o.pipelines {
		if !p.State().Terminal() {
			return true
		}
	}
	return false
}

func (o *DualStreamOrchestrator) fanOut(op string, fn func(*StreamPipeline) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for source, p := range o.pipelines {
		wg.Add(1)
		go func(source domain.Source, p *StreamPipeline) {
			defer wg.Done()
			if err := fn(p); err != nil {
				o.log.Error("stream operation failed", "op", op, "source", string(source), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s %s stream: %w", op, source, err))
				mu.Unlock()
			}
		}(source, p)
	}
	wg.Wait()
	return errors.Join(errs...)
}
