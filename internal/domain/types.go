package domain

import "time"

// Source identifies which capture path produced an audio frame or transcript.
type Source string

const (
	// SourceMic is the near-field microphone capture (the user's own voice).
	SourceMic Source = "mic"
	// SourceSystem is the system loopback capture (remote parties / on-screen audio).
	SourceSystem Source = "system"
)

// Label renders the source as a speaker name for display and logs.
func (s Source) Label() string {
	if s == SourceSystem {
		return "Speaker"
	}
	return "User"
}

// PipelineState models one stream pipeline's lifecycle.
type PipelineState string

const (
	StateIdle         PipelineState = "idle"
	StateConnecting   PipelineState = "connecting"
	StateActive       PipelineState = "active"
	StateReconnecting PipelineState = "reconnecting"
	StatePaused       PipelineState = "paused"
	StateFailed       PipelineState = "failed"
	StateStopped      PipelineState = "stopped"
)

// Terminal reports whether the pipeline will make no further progress on its own.
func (s PipelineState) Terminal() bool {
	return s == StateFailed || s == StateStopped
}

// TranscriptEvent is one recognition result attributed to a capture source.
// Interim events exist only until superseded; final events are deduplicated
// and forwarded downstream.
type TranscriptEvent struct {
	Source    Source    `json:"source"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}
