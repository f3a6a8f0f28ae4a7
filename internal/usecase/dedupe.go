package usecase

import (
	"strings"
	"sync"
	"unicode"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/metrics"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
)

// MatchStrictness selects how aggressively near-duplicates are suppressed.
type MatchStrictness string

const (
	// MatchExact suppresses only identical normalized lines.
	MatchExact MatchStrictness = "exact"
	// MatchInclusive also suppresses substring/superstring overlaps, which
	// catches lines that differ only by endpointing at the edges.
	MatchInclusive MatchStrictness = "inclusive"
)

// DedupeConfig tunes the duplicate-suppression window. The defaults replicate
// the known-approximate policy: a 5-line window with inclusive matching.
type DedupeConfig struct {
	WindowLines int
	Strictness  MatchStrictness
}

func (c DedupeConfig) withDefaults() DedupeConfig {
	if c.WindowLines <= 0 {
		c.WindowLines = 5
	}
	if c.Strictness != MatchExact {
		c.Strictness = MatchInclusive
	}
	return c
}

// Deduplicator suppresses final transcripts that are near-duplicates of text
// already emitted by either source. Both capture paths hear the same physical
// conversation, so acoustic bleed-through produces the same words twice.
type Deduplicator struct {
	cfg      DedupeConfig
	consumer ports.TranscriptConsumer
	mx       *metrics.Metrics

	mu         sync.Mutex
	windows    map[domain.Source]*recentWindow
	lastFinal  map[domain.Source]string
	suppressed uint64
}

// NewDeduplicator forwards accepted events to consumer. mx may be nil.
func NewDeduplicator(cfg DedupeConfig, consumer ports.TranscriptConsumer, mx *metrics.Metrics) *Deduplicator {
	return &Deduplicator{
		cfg:      cfg.withDefaults(),
		consumer: consumer,
		mx:       mx,
		windows: map[domain.Source]*recentWindow{
			domain.SourceMic:    {},
			domain.SourceSystem: {},
		},
		lastFinal: map[domain.Source]string{},
	}
}

// Offer evaluates one final event. It returns true when the event was accepted
// and forwarded, false when it was suppressed as a duplicate. Interim events
// must not be offered.
func (d *Deduplicator) Offer(event domain.TranscriptEvent) bool {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return false
	}
	event.Text = text

	d.mu.Lock()
	if d.isDuplicateLocked(event.Source, text) {
		d.suppressed++
		d.mu.Unlock()
		d.mx.ObserveSuppressed()
		return false
	}
	d.windows[event.Source].add(normalizeLine(text), d.cfg.WindowLines)
	d.lastFinal[event.Source] = text
	d.mu.Unlock()

	if d.consumer != nil {
		d.consumer.Consume(event)
	}
	return true
}

// Consume implements ports.TranscriptConsumer, so the deduplicator can sit
// directly behind a pipeline's final-transcript output.
func (d *Deduplicator) Consume(event domain.TranscriptEvent) {
	d.Offer(event)
}

// Suppressed reports how many finals were dropped as duplicates.
func (d *Deduplicator) Suppressed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suppressed
}

func (d *Deduplicator) isDuplicateLocked(source domain.Source, text string) bool {
	other := domain.SourceSystem
	if source == domain.SourceSystem {
		other = domain.SourceMic
	}

	// Cheap path: identical to the other source's most recent final line.
	if text == d.lastFinal[other] && text != "" {
		return true
	}

	normalized := normalizeLine(text)
	if normalized == "" {
		return false
	}

	// Both windows are consulted symmetrically; a source can also echo itself.
	for _, w := range []*recentWindow{d.windows[source], d.windows[other]} {
		for _, line := range w.lines {
			if line == normalized {
				return true
			}
			if d.cfg.Strictness == MatchInclusive &&
				(strings.Contains(line, normalized) || strings.Contains(normalized, line)) {
				return true
			}
		}
	}
	return false
}

// recentWindow keeps the most recent normalized final lines, newest first.
type recentWindow struct {
	lines []string
}

func (w *recentWindow) add(line string, bound int) {
	if line == "" {
		return
	}
	w.lines = append([]string{line}, w.lines...)
	if len(w.lines) > bound {
		w.lines = w.lines[:bound]
	}
}

// normalizeLine lowercases and strips everything but letters and digits, so
// punctuation and spacing differences between the two recognizers never defeat
// the comparison.
func normalizeLine(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
