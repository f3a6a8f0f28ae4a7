package ports

import (
	"context"
	"io"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

// AudioConfig describes how one capture source should be opened.
type AudioConfig struct {
	SampleRate   int
	Channels     int
	SampleFormat string
	InputFormat  string
	InputDevice  string
}

// AudioSession is a live capture session delivering raw PCM bytes.
// Pause suspends sample production without releasing the device;
// Stop releases the device and the OS capture indicator.
type AudioSession interface {
	io.ReadCloser
	Pause() error
	Resume() error
	Stop() error
}

// AudioCapture opens capture sessions for one device.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// TranscriptConsumer receives accepted (deduplicated) final transcripts.
type TranscriptConsumer interface {
	Consume(event domain.TranscriptEvent)
}

// TranscriptConsumerFunc adapts a function to TranscriptConsumer.
type TranscriptConsumerFunc func(domain.TranscriptEvent)

func (f TranscriptConsumerFunc) Consume(event domain.TranscriptEvent) { f(event) }

// EventSink surfaces pipeline state and transcripts to the embedding
// application (UI, logs). Implementations must be safe for concurrent use.
type EventSink interface {
	// StreamStatusChanged reports a per-source lifecycle transition.
	StreamStatusChanged(source domain.Source, state domain.PipelineState)
	// InterimTranscript carries live-typing feedback; never persisted.
	InterimTranscript(source domain.Source, text string)
	// FinalTranscript carries an accepted, deduplicated final result.
	FinalTranscript(event domain.TranscriptEvent)
	// Reconnecting reports that a retry attempt is being scheduled.
	Reconnecting(source domain.Source, attempt int)
	// Restored reports a successful reconnect after at least one failure.
	Restored(source domain.Source)
	// StreamError reports a terminal, user-visible failure.
	StreamError(source domain.Source, err error)
}

// Classification is the black-box text classifier's verdict for one utterance.
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier is the on-device text classification model, consumed opaquely.
type Classifier interface {
	Classify(text string) (Classification, error)
}

// QuestionStatus is the lead scorer's verdict for one framework question.
type QuestionStatus struct {
	Question   string  `json:"question"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
}

// LeadScorer evaluates framework progress over accumulated transcript turns.
type LeadScorer interface {
	Score(framework string, questions []string, turns []domain.TranscriptEvent) ([]QuestionStatus, error)
}
