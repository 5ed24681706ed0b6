package intent

import (
	"fmt"
	"regexp"
	"strings"

	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
)

// ==========================
// 1. Contract Types
// ==========================

// Confidence levels per extraction path. An exactly spoken value (a literal
// instance type or CIDR) outranks a size alias, which still clears the
// default clarification threshold so sized requests do not raise a question.
const (
	confDerived    = 1.0
	confExactValue = 0.95
	confEngine     = 0.9
	confStorage    = 0.9
	confImage      = 0.85
	confSizeAlias  = 0.8

	// minKindScore is the floor below which a scorer hit is discarded.
	minKindScore = 0.5
)

// Options tunes a single extraction run.
type Options struct {
	// Provider is the fallback provider used for alias resolution (size
	// words, machine images, default CIDR) when the utterance names none.
	Provider string

	// MaxSubnetSplit caps how many subnets one request may carve out of the
	// parent network range. Zero means no bound beyond the /30 floor.
	MaxSubnetSplit int
}

// Result is the extractor's output: candidate intents in declaration order,
// session-level attribute hints, and the kinds the user explicitly declined.
type Result struct {
	Action            Action
	Intents           []*models.ResourceIntent
	Session           map[string]string
	SessionConfidence map[string]float64
	Negated           map[models.ResourceKind]bool
}

// kindMatch records the first non-negated keyword hit for a kind plus the
// largest quantity word seen next to any of its keywords.
type kindMatch struct {
	keyword  string
	index    int
	quantity int
}

// Extractor maps raw utterance text to ResourceIntent candidates using the
// lexicon. Extraction is a pure function of (utterance, lexicon, options):
// it never blocks and never mutates external state.
type Extractor struct {
	lex    *lexicon.Lexicon
	scorer Scorer
	log    logger.Logger
}

func NewExtractor(lex *lexicon.Lexicon, scorer Scorer, log logger.Logger) *Extractor {
	if scorer == nil {
		scorer = KeywordScorer{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Extractor{lex: lex, scorer: scorer, log: log}
}

var (
	cidrPattern    = regexp.MustCompile(`\b(\d{1,3}(?:\.\d{1,3}){3}/\d{1,2})\b`)
	storagePattern = regexp.MustCompile(`\b(\d+)\s*(?:gb|gigs?|gigabytes?)\b`)
)

// ==========================
// 2. Extraction
// ==========================

// Extract parses one utterance into candidate intents. Attributes the user
// never mentioned are left absent for the clarification stage; quantity
// words expand multi-instance kinds into numbered intents with bisected,
// non-overlapping subnet CIDR ranges.
func (e *Extractor) Extract(utterance string, opts Options) (*Result, error) {
	words := tokenize(utterance)

	res := &Result{
		Action:            detectAction(words),
		Session:           make(map[string]string),
		SessionConfidence: make(map[string]float64),
		Negated:           make(map[models.ResourceKind]bool),
	}

	matches := make(map[models.ResourceKind]*kindMatch)
	var order []models.ResourceKind

	for i, w := range words {
		kind, ok := e.lex.KindForKeyword(w)
		if !ok {
			continue
		}
		if negatedAt(words, i) {
			res.Negated[kind] = true
			continue
		}
		if e.scorer.Score(utterance, kind, w) < minKindScore {
			continue
		}
		m := matches[kind]
		if m == nil {
			m = &kindMatch{keyword: w, index: i, quantity: 1}
			matches[kind] = m
			order = append(order, kind)
		}
		if q := quantityBefore(words, i); q > m.quantity && e.lex.Kind(kind).MultiInstance {
			m.quantity = q
		}
	}

	provider, region, exactType := e.extractSession(words)
	if provider != "" {
		res.Session["provider"] = provider
		res.SessionConfidence["provider"] = confExactValue
	}
	if region != "" {
		res.Session["region"] = region
		res.SessionConfidence["region"] = confExactValue
	}

	activeProvider := provider
	if activeProvider == "" {
		activeProvider = opts.Provider
	}
	if activeProvider == "" {
		activeProvider = "aws"
	}
	provSpec := e.lex.Provider(activeProvider)
	if provSpec == nil {
		return nil, fmt.Errorf("unknown provider %q", activeProvider)
	}

	sizeType := e.extractSize(words, provSpec)
	image := e.extractImage(words, provSpec)
	engine := e.extractEngine(words)
	networkCIDR := cidrPattern.FindString(utterance)
	storageGB := ""
	if m := storagePattern.FindStringSubmatch(strings.ToLower(utterance)); m != nil {
		storageGB = m[1]
	}

	subnetCIDRs, err := e.deriveSubnetCIDRs(matches, networkCIDR, provSpec, opts.MaxSubnetSplit)
	if err != nil {
		return nil, err
	}

	declared := 0
	for _, kind := range order {
		m := matches[kind]
		spec := e.lex.Kind(kind)
		count := 1
		if spec.MultiInstance {
			count = m.quantity
		}
		for n := 1; n <= count; n++ {
			name := string(kind)
			if spec.MultiInstance {
				name = fmt.Sprintf("%s-%d", kind, n)
			}
			it := models.NewResourceIntent(kind, name, declared)
			declared++

			switch kind {
			case models.KindNetwork:
				if networkCIDR != "" {
					it.SetAttribute("cidr_block", networkCIDR, confExactValue, models.ProvenanceUtterance)
				}
			case models.KindSubnet:
				it.SetAttribute("cidr_block", subnetCIDRs[n-1], confDerived, models.ProvenanceUtterance)
			case models.KindCompute:
				if exactType != "" {
					it.SetAttribute("instance_type", exactType, confExactValue, models.ProvenanceUtterance)
				} else if sizeType != "" {
					it.SetAttribute("instance_type", sizeType, confSizeAlias, models.ProvenanceUtterance)
				}
				if image != "" {
					it.SetAttribute("image", image, confImage, models.ProvenanceUtterance)
				}
			case models.KindDatabase:
				if engine != "" {
					it.SetAttribute("engine", engine, confEngine, models.ProvenanceUtterance)
				}
				if storageGB != "" {
					it.SetAttribute("allocated_storage", storageGB, confStorage, models.ProvenanceUtterance)
				}
			case models.KindSecurityRule:
				if m.keyword == "strict" {
					it.SetAttribute("profile", "strict", confEngine, models.ProvenanceUtterance)
				}
			}
			res.Intents = append(res.Intents, it)
		}
	}

	e.log.Debug("Extracted intents from utterance", map[string]interface{}{
		"action":   string(res.Action),
		"intents":  len(res.Intents),
		"negated":  len(res.Negated),
		"provider": activeProvider,
	})
	return res, nil
}

// ==========================
// 3. Attribute Scanners
// ==========================

// extractSession pulls provider, region, and literal instance-type mentions
// out of the token stream. A spoken instance type or region implies its
// provider when the utterance names none directly.
func (e *Extractor) extractSession(words []string) (provider, region, exactType string) {
	for _, w := range words {
		switch w {
		case "aws", "amazon":
			provider = "aws"
		case "azure", "microsoft":
			provider = "azure"
		case "gcp", "google":
			provider = "gcp"
		}
	}
	for _, w := range words {
		if region == "" {
			if p, ok := e.lex.ProviderForRegion(w); ok {
				region = w
				if provider == "" {
					provider = p
				}
			}
		}
		if exactType == "" {
			if p, canonical, ok := e.lex.ProviderForInstanceType(w); ok {
				exactType = canonical
				if provider == "" {
					provider = p
				}
			}
		}
	}
	return provider, region, exactType
}

func (e *Extractor) extractSize(words []string, prov *lexicon.ProviderSpec) string {
	for i, w := range words {
		if t, ok := prov.SizeAliases[w]; ok && !negatedAt(words, i) {
			return t
		}
	}
	return ""
}

func (e *Extractor) extractImage(words []string, prov *lexicon.ProviderSpec) string {
	for i, w := range words {
		if negatedAt(words, i) {
			continue
		}
		if w == "amazon" && i+1 < len(words) && words[i+1] == "linux" {
			if _, ok := prov.Images["amazon_linux"]; ok {
				return "amazon_linux"
			}
		}
		if _, ok := prov.Images[w]; ok {
			return w
		}
	}
	return ""
}

func (e *Extractor) extractEngine(words []string) string {
	for i, w := range words {
		if eng, ok := normalizeEngine(w); ok && !negatedAt(words, i) {
			return eng
		}
	}
	return ""
}

// deriveSubnetCIDRs bisects the parent network range into one child per
// requested subnet. The parent is the explicitly spoken network CIDR when
// present, otherwise the provider's default range; derivation therefore
// stays reproducible for identical input.
func (e *Extractor) deriveSubnetCIDRs(matches map[models.ResourceKind]*kindMatch, networkCIDR string, prov *lexicon.ProviderSpec, maxSplit int) ([]string, error) {
	m := matches[models.KindSubnet]
	if m == nil {
		return nil, nil
	}
	if maxSplit > 0 && m.quantity > maxSplit {
		return nil, fmt.Errorf("requested %d subnets, configured maximum is %d", m.quantity, maxSplit)
	}
	parent := networkCIDR
	if parent == "" {
		parent = prov.DefaultCIDR
	}
	if parent == "" {
		parent = "10.0.0.0/16"
	}
	cidrs, err := DeriveSubnetCIDRs(parent, m.quantity)
	if err != nil {
		return nil, fmt.Errorf("derive subnet ranges: %w", err)
	}
	return cidrs, nil
}
