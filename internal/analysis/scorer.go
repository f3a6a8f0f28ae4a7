package analysis

import (
	"strings"
	"unicode"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
)

// Question status values reported by the heuristic scorer.
const (
	StatusOpen     = "open"
	StatusTouched  = "touched"
	StatusAnswered = "answered"
)

// HeuristicScorer grades framework questions by lexical overlap between each
// question and the accumulated conversation turns. It is the no-model default
// behind ports.LeadScorer.
type HeuristicScorer struct{}

// NewHeuristicScorer returns the default scorer.
func NewHeuristicScorer() *HeuristicScorer { return &HeuristicScorer{} }

// Score evaluates every question against the turns. A question counts as
// answered when at least two of its salient words appear in a single turn,
// touched when one does, and open otherwise. Evidence is the strongest turn.
func (s *HeuristicScorer) Score(framework string, questions []string, turns []domain.TranscriptEvent) ([]ports.QuestionStatus, error) {
	statuses := make([]ports.QuestionStatus, 0, len(questions))
	for _, question := range questions {
		words := salientWords(question)
		best := 0
		evidence := ""
		for _, turn := range turns {
			lowered := strings.ToLower(turn.Text)
			hits := 0
			for _, w := range words {
				if strings.Contains(lowered, w) {
					hits++
				}
			}
			if hits > best {
				best = hits
				evidence = turn.Text
			}
		}

		status := ports.QuestionStatus{Question: question, Status: StatusOpen}
		switch {
		case best >= 2:
			status.Status = StatusAnswered
			status.Evidence = evidence
		case best == 1:
			status.Status = StatusTouched
			status.Evidence = evidence
		}
		if len(words) > 0 {
			status.Confidence = float64(best) / float64(len(words))
			if status.Confidence > 1 {
				status.Confidence = 1
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// salientWords keeps the question's content words: letters only, length > 3,
// minus a small stop list.
func salientWords(question string) []string {
	stop := map[string]struct{}{
		"what": {}, "when": {}, "where": {}, "which": {}, "their": {},
		"does": {}, "have": {}, "will": {}, "this": {}, "that": {},
		"your": {}, "they": {}, "with": {}, "from": {}, "about": {},
	}
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 3 {
			continue
		}
		if _, skip := stop[f]; skip {
			continue
		}
		words = append(words, f)
	}
	return words
}
