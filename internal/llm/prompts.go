package llm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Beereal295/echo-memory/internal/config"
)

// ImportancePrompt generates the judge prompt for scoring a memory's
// importance. The rubric band text comes from configuration so it can
// be recalibrated per judge model without a code change.
func ImportancePrompt(content, memoryType string, entities []string, rubric config.RubricConfig) string {
	entityList := "none"
	if len(entities) > 0 {
		entityList = strings.Join(entities, ", ")
	}

	return fmt.Sprintf(`You are scoring how important a personal memory is for a journaling assistant to retain long-term.

MEMORY: %s
TYPE: %s
KEY ENTITIES: %s

Score it on a 1-10 scale:
- 9-10 (critical): %s
- 7-8 (important): %s
- 5-6 (moderate): %s
- 3-4 (low): %s
- 1-2 (negligible): %s

Respond with ONLY a single number between 1 and 10. No explanation.`,
		content, memoryType, entityList,
		rubric.Critical, rubric.Important, rubric.Moderate, rubric.Low, rubric.Negligible)
}

// ParseScore extracts the first numeric token from a judge response
// and clamps it to [1,10]. Returns ok=false when no numeric token is
// present; the caller decides the fallback.
func ParseScore(response string) (float64, bool) {
	for _, field := range strings.Fields(response) {
		token := strings.Trim(field, ".,;:!?\"'()[]")
		score, err := strconv.ParseFloat(token, 64)
		if err != nil {
			continue
		}
		if score < 1 {
			score = 1
		}
		if score > 10 {
			score = 10
		}
		return score, true
	}
	return 0, false
}
