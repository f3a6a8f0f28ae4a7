package analysis

import (
	"log/slog"
	"sync"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
)

// RouterConfig tunes the analysis fan-out.
type RouterConfig struct {
	Framework  string
	Questions  []string
	MaxTurns   int
	ScoreEvery int
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.Framework == "" {
		c.Framework = "BANT"
	}
	if len(c.Questions) == 0 {
		c.Questions = []string{
			"What budget does the prospect have available?",
			"Who holds authority over the purchase decision?",
			"What need or pain point drives the conversation?",
			"What timeline does the prospect expect?",
		}
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 200
	}
	if c.ScoreEvery == 0 {
		c.ScoreEvery = 5
	}
	return c
}

// Router sits behind the deduplicator: every accepted final transcript is
// forwarded downstream, classified, appended to the turn buffer, and every
// ScoreEvery turns the framework scorer is re-run over the buffer.
type Router struct {
	cfg        RouterConfig
	classifier ports.Classifier
	scorer     ports.LeadScorer
	next       ports.TranscriptConsumer
	log        *slog.Logger

	mu         sync.Mutex
	turns      []domain.TranscriptEvent
	labels     map[string]int
	progress   []ports.QuestionStatus
	sinceScore int
}

// NewRouter builds the analysis stage. next receives every event unchanged;
// classifier and scorer may be nil to disable the respective stage.
func NewRouter(cfg RouterConfig, classifier ports.Classifier, scorer ports.LeadScorer, next ports.TranscriptConsumer, log *slog.Logger) *Router {
	return &Router{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		scorer:     scorer,
		next:       next,
		log:        log,
		labels:     map[string]int{},
	}
}

// Consume implements ports.TranscriptConsumer. Analysis failures are logged
// and never block transcript delivery.
func (r *Router) Consume(event domain.TranscriptEvent) {
	if r.next != nil {
		r.next.Consume(event)
	}

	if r.classifier != nil {
		verdict, err := r.classifier.Classify(event.Text)
		if err != nil {
			r.log.Warn("classification failed", "error", err)
		} else if verdict.Label != NeutralLabel {
			r.mu.Lock()
			r.labels[verdict.Label]++
			r.mu.Unlock()
			r.log.Debug("utterance classified",
				"source", string(event.Source), "label", verdict.Label, "score", verdict.Score)
		}
	}

	r.mu.Lock()
	r.turns = append(r.turns, event)
	if len(r.turns) > r.cfg.MaxTurns {
		r.turns = r.turns[len(r.turns)-r.cfg.MaxTurns:]
	}
	r.sinceScore++
	rescore := r.scorer != nil && r.sinceScore >= r.cfg.ScoreEvery
	var turns []domain.TranscriptEvent
	if rescore {
		r.sinceScore = 0
		turns = append(turns, r.turns...)
	}
	r.mu.Unlock()

	if rescore {
		r.rescore(turns)
	}
}

// Progress returns the latest framework scoring round, forcing one if none
// has run yet.
func (r *Router) Progress() []ports.QuestionStatus {
	r.mu.Lock()
	cached := r.progress
	var turns []domain.TranscriptEvent
	if cached == nil && r.scorer != nil {
		turns = append(turns, r.turns...)
	}
	r.mu.Unlock()

	if cached != nil || r.scorer == nil {
		return append([]ports.QuestionStatus(nil), cached...)
	}
	r.rescore(turns)

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.QuestionStatus(nil), r.progress...)
}

// LabelCounts reports how many utterances matched each classification label.
func (r *Router) LabelCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.labels))
	for label, n := range r.labels {
		out[label] = n
	}
	return out
}

// Turns returns a copy of the buffered conversation.
func (r *Router) Turns() []domain.TranscriptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TranscriptEvent(nil), r.turns...)
}

func (r *Router) rescore(turns []domain.TranscriptEvent) {
	statuses, err := r.scorer.Score(r.cfg.Framework, r.cfg.Questions, turns)
	if err != nil {
		r.log.Warn("framework scoring failed", "framework", r.cfg.Framework, "error", err)
		return
	}
	r.mu.Lock()
	r.progress = statuses
	r.mu.Unlock()
}
