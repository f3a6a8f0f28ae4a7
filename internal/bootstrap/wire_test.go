package bootstrap

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSuccess(t *testing.T) {
	t.Setenv("CALLSCRIBE_ACCESS_TOKEN", "test-token")
	t.Setenv("CALLSCRIBE_TUNING_FILE", "")

	services, err := Build(noopEventSink{}, prometheus.NewRegistry(), testLogger())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Orchestrator == nil || services.Deduplicator == nil || services.Analysis == nil {
		t.Fatalf("incomplete service graph: %+v", services)
	}
	if services.Metrics == nil {
		t.Fatal("metrics should be wired when enabled")
	}
}

func TestBuildFailsWithoutAccessToken(t *testing.T) {
	t.Setenv("CALLSCRIBE_ACCESS_TOKEN", "")
	t.Setenv("CALLSCRIBE_TUNING_FILE", "")

	_, err := Build(noopEventSink{}, prometheus.NewRegistry(), testLogger())
	if err == nil {
		t.Fatal("expected build error for missing access token")
	}
	if domain.KindOf(err) != domain.ErrConfiguration {
		t.Fatalf("error kind = %s, want configuration", domain.KindOf(err))
	}
}

func TestBuildFailsOnBadEndpoint(t *testing.T) {
	t.Setenv("CALLSCRIBE_ACCESS_TOKEN", "test-token")
	t.Setenv("CALLSCRIBE_BACKEND_URL", "https://not-a-websocket.example.com")
	t.Setenv("CALLSCRIBE_TUNING_FILE", "")

	_, err := Build(noopEventSink{}, prometheus.NewRegistry(), testLogger())
	if err == nil {
		t.Fatal("expected build error for non-websocket endpoint")
	}
}

func TestBuildSkipsMetricsWhenDisabled(t *testing.T) {
	t.Setenv("CALLSCRIBE_ACCESS_TOKEN", "test-token")
	t.Setenv("CALLSCRIBE_METRICS_ENABLED", "false")
	t.Setenv("CALLSCRIBE_TUNING_FILE", "")

	services, err := Build(noopEventSink{}, prometheus.NewRegistry(), testLogger())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Metrics != nil {
		t.Fatal("metrics should not be wired when disabled")
	}
}

func TestBuildWiresFinalsThroughDedupeToSink(t *testing.T) {
	t.Setenv("CALLSCRIBE_ACCESS_TOKEN", "test-token")
	t.Setenv("CALLSCRIBE_TUNING_FILE", "")

	sink := &recordingSink{}
	services, err := Build(sink, prometheus.NewRegistry(), testLogger())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// The deduplicator is what the pipelines feed; an accepted final must
	// reach the event sink, an echoed one must not.
	services.Deduplicator.Consume(domain.TranscriptEvent{
		Source:    domain.SourceMic,
		Text:      "let us review the contract",
		IsFinal:   true,
		Timestamp: time.Now(),
	})
	services.Deduplicator.Consume(domain.TranscriptEvent{
		Source:    domain.SourceSystem,
		Text:      "let us review the contract",
		IsFinal:   true,
		Timestamp: time.Now(),
	})

	if got := sink.finalCount(); got != 1 {
		t.Fatalf("sink received %d finals, want 1", got)
	}
	if got := services.Deduplicator.Suppressed(); got != 1 {
		t.Fatalf("suppressed = %d, want 1", got)
	}
	if turns := services.Analysis.Turns(); len(turns) != 1 {
		t.Fatalf("analysis buffered %d turns, want 1", len(turns))
	}
}

type recordingSink struct {
	noopEventSink

	mu     sync.Mutex
	finals []domain.TranscriptEvent
}

func (s *recordingSink) FinalTranscript(event domain.TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, event)
}

func (s *recordingSink) finalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finals)
}

type noopEventSink struct{}

func (noopEventSink) StreamStatusChanged(_ domain.Source, _ domain.PipelineState) {}
func (noopEventSink) InterimTranscript(_ domain.Source, _ string)                 {}
func (noopEventSink) FinalTranscript(_ domain.TranscriptEvent)                    {}
func (noopEventSink) Reconnecting(_ domain.Source, _ int)                         {}
func (noopEventSink) Restored(_ domain.Source)                                    {}
func (noopEventSink) StreamError(_ domain.Source, _ error)                        {}
