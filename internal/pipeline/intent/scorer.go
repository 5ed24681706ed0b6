package intent

import (
	"strings"

	"infra-wizard/internal/models"
)

// Scorer estimates how strongly a keyword occurrence in an utterance
// supports creating an intent of the given kind. Implementations range from
// the bundled keyword matcher to a learned classifier; the extractor only
// depends on the returned confidence.
type Scorer interface {
	Score(utterance string, kind models.ResourceKind, keyword string) float64
}

// KeywordScorer is the default rule-based scorer. Whole-word keyword hits
// score high; longer keywords score slightly higher than short generic ones
// ("postgresql" beats "db").
type KeywordScorer struct{}

func (KeywordScorer) Score(_ string, _ models.ResourceKind, keyword string) float64 {
	switch {
	case len(keyword) >= 6:
		return 0.95
	case len(keyword) >= 3:
		return 0.9
	default:
		return 0.75
	}
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(utterance string, kind models.ResourceKind, keyword string) float64

func (f ScorerFunc) Score(utterance string, kind models.ResourceKind, keyword string) float64 {
	return f(utterance, kind, keyword)
}

// normalizeEngine folds spoken engine variants onto the catalogue's engine
// identifiers.
func normalizeEngine(word string) (string, bool) {
	switch strings.ToLower(word) {
	case "mysql":
		return "mysql", true
	case "postgres", "postgresql":
		return "postgres", true
	default:
		return "", false
	}
}
