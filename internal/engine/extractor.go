package engine

import "strings"

// Extraction is one candidate memory produced by an extractor: the
// sentence, its classified type, keyword entities, and a rule-based
// importance score on the 1-10 scale.
type Extraction struct {
	Content     string
	MemoryType  string
	KeyEntities []string
	Score       float64
}

// Extractor turns a block of user-authored text into candidate
// memories. Implementations may be rule-based or LLM-backed; the
// engine treats the extractor as an external collaborator.
type Extractor interface {
	Extract(text string) []Extraction
}

// RuleExtractor is the default pattern-based extractor: it keeps
// first-person sentences that look like facts, preferences, or
// habits, and scores them by type.
type RuleExtractor struct{}

// NewRuleExtractor returns the default rule-based extractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// firstPersonMarkers gate which sentences are considered memory
// candidates at all.
var firstPersonMarkers = []string{
	"my", "i ", "i'm", "i've", "prefer", "like", "usually", "always", "every",
}

var factualKeywords = []string{"name", "work", "live", "years old", "have a"}
var preferenceKeywords = []string{"prefer", "love", "hate", "don't like", "call me", "like"}
var behavioralKeywords = []string{"usually", "always", "often", "every"}
var relationalKeywords = []string{"wife", "husband", "partner", "mom", "dad", "sister", "brother", "friend"}

// entityKeywords is the light keyword vocabulary used for entity
// indexing.
var entityKeywords = []string{
	"name", "work", "cat", "dog", "pet", "wife", "husband", "partner",
	"mom", "dad", "sister", "brother", "friend", "job", "company",
	"tea", "coffee", "morning", "evening",
}

// Extract splits text into sentences and keeps the ones that carry
// first-person signal.
func (r *RuleExtractor) Extract(text string) []Extraction {
	var out []Extraction
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 8 {
			continue
		}
		lower := strings.ToLower(sentence)

		personal := false
		for _, marker := range firstPersonMarkers {
			if strings.Contains(lower, marker) {
				personal = true
				break
			}
		}
		if !personal {
			continue
		}

		memType := classifyType(lower)
		out = append(out, Extraction{
			Content:     sentence,
			MemoryType:  memType,
			KeyEntities: extractEntities(lower),
			Score:       importanceForType(memType),
		})
	}
	return out
}

// classifyType buckets a sentence into one of the five memory types
// by keyword. Preference markers are checked before factual ones so
// "I prefer X" is not swallowed by an incidental factual keyword.
func classifyType(lower string) string {
	if containsAny(lower, preferenceKeywords) {
		return "preference"
	}
	if containsAny(lower, factualKeywords) {
		return "factual"
	}
	if containsAny(lower, relationalKeywords) {
		return "relational"
	}
	if containsAny(lower, behavioralKeywords) {
		return "behavioral"
	}
	return "contextual"
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func extractEntities(lower string) []string {
	var entities []string
	for _, k := range entityKeywords {
		if strings.Contains(lower, k) {
			entities = append(entities, k)
		}
	}
	return entities
}

// importanceForType is the rule-based initial score: identity facts
// and stated preferences matter most, ambient context least.
func importanceForType(memType string) float64 {
	switch memType {
	case "factual":
		return 5.0
	case "preference", "relational":
		return 4.0
	case "behavioral":
		return 3.0
	default:
		return 2.0
	}
}
