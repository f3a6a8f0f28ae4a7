package usecase

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/metrics"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
)

type collectingConsumer struct {
	mu     sync.Mutex
	events []domain.TranscriptEvent
}

func (c *collectingConsumer) Consume(event domain.TranscriptEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collectingConsumer) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Text
	}
	return out
}

func finalEvent(source domain.Source, text string) domain.TranscriptEvent {
	return domain.TranscriptEvent{Source: source, Text: text, IsFinal: true, Timestamp: time.Now()}
}

func TestDeduplicatorSuppressesCrossSourceEcho(t *testing.T) {
	t.Parallel()

	sink := &collectingConsumer{}
	d := NewDeduplicator(DedupeConfig{}, sink, nil)

	if !d.Offer(finalEvent(domain.SourceMic, "hello there")) {
		t.Fatalf("first line should be accepted")
	}
	if d.Offer(finalEvent(domain.SourceSystem, "hello there")) {
		t.Fatalf("identical echo from the other source should be suppressed")
	}
	if d.Offer(finalEvent(domain.SourceSystem, "hello there friend")) {
		t.Fatalf("superset echo should be suppressed under inclusive matching")
	}
	if !d.Offer(finalEvent(domain.SourceSystem, "totally different")) {
		t.Fatalf("unrelated text should be accepted")
	}

	if got := d.Suppressed(); got != 2 {
		t.Fatalf("expected 2 suppressed, got %d", got)
	}
	if got := sink.texts(); len(got) != 2 || got[0] != "hello there" || got[1] != "totally different" {
		t.Fatalf("unexpected forwarded texts: %v", got)
	}
}

func TestDeduplicatorSymmetry(t *testing.T) {
	t.Parallel()

	// The same policy must hold regardless of which source speaks first.
	d := NewDeduplicator(DedupeConfig{}, &collectingConsumer{}, nil)
	if !d.Offer(finalEvent(domain.SourceSystem, "good morning everyone")) {
		t.Fatalf("first line should be accepted")
	}
	if d.Offer(finalEvent(domain.SourceMic, "good morning")) {
		t.Fatalf("substring echo from mic should be suppressed")
	}
}

func TestDeduplicatorNormalization(t *testing.T) {
	t.Parallel()

	d := NewDeduplicator(DedupeConfig{}, &collectingConsumer{}, nil)
	if !d.Offer(finalEvent(domain.SourceMic, "Let's sync tomorrow, OK?")) {
		t.Fatalf("first line should be accepted")
	}
	if d.Offer(finalEvent(domain.SourceSystem, "lets sync tomorrow ok")) {
		t.Fatalf("punctuation and casing must not defeat the match")
	}
}

func TestDeduplicatorWindowEviction(t *testing.T) {
	t.Parallel()

	d := NewDeduplicator(DedupeConfig{WindowLines: 5}, &collectingConsumer{}, nil)
	for i := 0; i < 6; i++ {
		if !d.Offer(finalEvent(domain.SourceMic, fmt.Sprintf("line number %d", i))) {
			t.Fatalf("distinct line %d should be accepted", i)
		}
	}

	// The oldest line fell out of the window and is no longer matched.
	if !d.Offer(finalEvent(domain.SourceSystem, "line number 0")) {
		t.Fatalf("evicted line should be accepted again")
	}
	// The most recent five are still matched.
	if d.Offer(finalEvent(domain.SourceSystem, "line number 5")) {
		t.Fatalf("line still inside the window should be suppressed")
	}
}

func TestDeduplicatorExactStrictness(t *testing.T) {
	t.Parallel()

	d := NewDeduplicator(DedupeConfig{Strictness: MatchExact}, &collectingConsumer{}, nil)
	if !d.Offer(finalEvent(domain.SourceMic, "hello there")) {
		t.Fatalf("first line should be accepted")
	}
	if !d.Offer(finalEvent(domain.SourceSystem, "hello there friend")) {
		t.Fatalf("exact mode must not suppress substring overlaps")
	}
	if d.Offer(finalEvent(domain.SourceSystem, "Hello, there!")) {
		t.Fatalf("exact mode still suppresses normalized equality")
	}
}

func TestDeduplicatorIgnoresEmptyText(t *testing.T) {
	t.Parallel()

	sink := &collectingConsumer{}
	d := NewDeduplicator(DedupeConfig{}, sink, nil)
	if d.Offer(finalEvent(domain.SourceMic, "   ")) {
		t.Fatalf("blank text should not be accepted")
	}
	if len(sink.texts()) != 0 {
		t.Fatalf("blank text should not be forwarded")
	}
}

func TestDeduplicatorConsumerFuncAdapter(t *testing.T) {
	t.Parallel()

	var got []string
	var mu sync.Mutex
	d := NewDeduplicator(DedupeConfig{}, ports.TranscriptConsumerFunc(func(e domain.TranscriptEvent) {
		mu.Lock()
		got = append(got, e.Text)
		mu.Unlock()
	}), nil)

	d.Offer(finalEvent(domain.SourceMic, "adapter works"))
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "adapter works" {
		t.Fatalf("unexpected consumer output: %v", got)
	}
}

func TestDeduplicatorImplementsTranscriptConsumer(t *testing.T) {
	t.Parallel()

	sink := &collectingConsumer{}
	d := NewDeduplicator(DedupeConfig{}, sink, nil)

	// Consume is how a pipeline hands finals over; it must share Offer's
	// suppression behavior.
	d.Consume(finalEvent(domain.SourceMic, "we can start next week"))
	d.Consume(finalEvent(domain.SourceSystem, "we can start next week"))

	if got := sink.texts(); len(got) != 1 || got[0] != "we can start next week" {
		t.Fatalf("unexpected accepted events: %v", got)
	}
	if d.Suppressed() != 1 {
		t.Fatalf("suppressed = %d, want 1", d.Suppressed())
	}

	var _ ports.TranscriptConsumer = d
}

func TestDeduplicatorRecordsSuppressedMetric(t *testing.T) {
	t.Parallel()

	mx := metrics.New(prometheus.NewRegistry())
	d := NewDeduplicator(DedupeConfig{}, &collectingConsumer{}, mx)

	d.Consume(finalEvent(domain.SourceMic, "same line twice"))
	d.Consume(finalEvent(domain.SourceSystem, "same line twice"))

	if got := testutil.ToFloat64(mx.DuplicatesSuppressed); got != 1 {
		t.Fatalf("duplicates_suppressed = %v, want 1", got)
	}
}
