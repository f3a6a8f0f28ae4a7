// Package analysis consumes accepted final transcripts and derives
// conversation insight from them: per-utterance topic classification and
// framework progress scoring over the accumulated turns.
package analysis

import (
	"sort"
	"strings"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
)

// NeutralLabel is returned when no rule matches an utterance.
const NeutralLabel = "neutral"

// KeywordClassifier is a deterministic keyword-match classifier. It stands
// where an on-device model would plug in; both sides of the boundary only see
// ports.Classifier.
type KeywordClassifier struct {
	rules []keywordRule
}

type keywordRule struct {
	label    string
	keywords []string
}

// NewKeywordClassifier builds a classifier from label -> keyword lists.
// Matching is case-insensitive and substring-based.
func NewKeywordClassifier(rules map[string][]string) *KeywordClassifier {
	c := &KeywordClassifier{}
	labels := make([]string, 0, len(rules))
	for label := range rules {
		labels = append(labels, label)
	}
	// Deterministic match order regardless of map iteration.
	sort.Strings(labels)
	for _, label := range labels {
		keywords := make([]string, 0, len(rules[label]))
		for _, kw := range rules[label] {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) > 0 {
			c.rules = append(c.rules, keywordRule{label: label, keywords: keywords})
		}
	}
	return c
}

// DefaultRules covers the topics a sales call surfaces most often.
func DefaultRules() map[string][]string {
	return map[string][]string{
		"pricing":    {"price", "pricing", "cost", "budget", "expensive", "discount"},
		"objection":  {"concern", "worried", "not sure", "problem", "risk", "hesitant"},
		"scheduling": {"schedule", "calendar", "follow up", "next week", "meeting", "demo"},
		"decision":   {"decision", "approve", "sign off", "stakeholder", "procurement"},
	}
}

// Classify scores text against every rule and returns the best label. The
// score is the fraction of that label's keywords present in the text.
func (c *KeywordClassifier) Classify(text string) (ports.Classification, error) {
	lowered := strings.ToLower(text)
	best := ports.Classification{Label: NeutralLabel}
	for _, rule := range c.rules {
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(rule.keywords))
		if score > best.Score {
			best = ports.Classification{Label: rule.label, Score: score}
		}
	}
	return best, nil
}
