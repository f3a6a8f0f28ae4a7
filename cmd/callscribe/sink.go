package main

import (
	"log/slog"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

// escalateAfter is the consecutive-failure count at which reconnect chatter
// stops being a warning and becomes an error.
const escalateAfter = 3

// consoleSink renders pipeline events as structured log lines. It is the CLI
// stand-in for a UI event bus.
type consoleSink struct {
	log *slog.Logger
}

func newConsoleSink(log *slog.Logger) *consoleSink {
	return &consoleSink{log: log}
}

func (s *consoleSink) StreamStatusChanged(source domain.Source, state domain.PipelineState) {
	s.log.Info("stream status", "source", string(source), "state", string(state))
}

func (s *consoleSink) InterimTranscript(source domain.Source, text string) {
	s.log.Debug("interim", "speaker", source.Label(), "text", text)
}

func (s *consoleSink) FinalTranscript(event domain.TranscriptEvent) {
	s.log.Info("transcript",
		"speaker", event.Source.Label(),
		"text", event.Text,
		"at", event.Timestamp.Format("15:04:05"))
}

func (s *consoleSink) Reconnecting(source domain.Source, attempt int) {
	if attempt >= escalateAfter {
		s.log.Error("connection still down, retrying",
			"source", string(source), "consecutive_failures", attempt)
		return
	}
	s.log.Warn("connection lost, retrying", "source", string(source), "consecutive_failures", attempt)
}

func (s *consoleSink) Restored(source domain.Source) {
	s.log.Info("connection restored", "source", string(source))
}

func (s *consoleSink) StreamError(source domain.Source, err error) {
	s.log.Error("stream failed", "source", string(source), "kind", string(domain.KindOf(err)), "error", err)
}
