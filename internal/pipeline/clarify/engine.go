package clarify

import (
	"fmt"
	"sort"
	"strings"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/intent"
)

// ==========================
// 1. Engine & Queue
// ==========================

// Engine turns extraction gaps into an ordered question queue and merges
// validated answers back into the intent set. Question order is fixed:
// session-level slots first, then resource kind priority, then declaration
// order, so identical input always produces the same conversation.
type Engine struct {
	lex         *lexicon.Lexicon
	threshold   float64
	maxAttempts int
	log         logger.Logger
}

func NewEngine(lex *lexicon.Lexicon, threshold float64, maxAttempts int, log logger.Logger) *Engine {
	if threshold <= 0 {
		threshold = 0.6
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Engine{lex: lex, threshold: threshold, maxAttempts: maxAttempts, log: log}
}

// Queue is the ordered set of open slots. It shrinks by exactly one on every
// accepted or defaulted answer and never grows except through Reopen.
type Queue struct {
	slots []*models.AmbiguitySlot
}

func (q *Queue) Len() int    { return len(q.slots) }
func (q *Queue) Empty() bool { return len(q.slots) == 0 }

// Next returns the slot to ask now, or nil when the queue is drained.
func (q *Queue) Next() *models.AmbiguitySlot {
	if len(q.slots) == 0 {
		return nil
	}
	return q.slots[0]
}

func (q *Queue) remove(slot *models.AmbiguitySlot) {
	for i, s := range q.slots {
		if s == slot {
			q.slots = append(q.slots[:i], q.slots[i+1:]...)
			return
		}
	}
}

// ==========================
// 2. Queue Construction
// ==========================

// BuildQueue walks the extraction result and opens one slot per required
// attribute that is absent or below the confidence threshold.
func (e *Engine) BuildQueue(res *intent.Result) *Queue {
	q := &Queue{}

	for i := range e.lex.Session {
		spec := &e.lex.Session[i]
		if !spec.Ask {
			continue
		}
		value, present := res.Session[spec.Name]
		if present && value != "" && res.SessionConfidence[spec.Name] >= e.threshold {
			continue
		}
		q.slots = append(q.slots, &models.AmbiguitySlot{
			Attribute:    spec.Name,
			Prompt:       e.promptFor(spec, res),
			Candidates:   e.candidatesFor(spec, res),
			State:        models.SlotOpen,
			SessionLevel: true,
		})
	}

	ordered := make([]*models.ResourceIntent, len(res.Intents))
	copy(ordered, res.Intents)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Kind.Priority() != ordered[j].Kind.Priority() {
			return ordered[i].Kind.Priority() < ordered[j].Kind.Priority()
		}
		return ordered[i].Declared < ordered[j].Declared
	})

	for _, it := range ordered {
		kindSpec := e.lex.Kind(it.Kind)
		if kindSpec == nil {
			continue
		}
		for i := range kindSpec.Attributes {
			spec := &kindSpec.Attributes[i]
			if !spec.Ask || !spec.Required {
				continue
			}
			if it.HasAttribute(spec.Name) && it.Confidence[spec.Name] >= e.threshold {
				continue
			}
			q.slots = append(q.slots, &models.AmbiguitySlot{
				Kind:       it.Kind,
				IntentName: it.Name,
				Attribute:  spec.Name,
				Prompt:     e.promptFor(spec, res),
				Candidates: e.candidatesFor(spec, res),
				State:      models.SlotOpen,
			})
		}
	}

	e.log.Debug("Built clarification queue", map[string]interface{}{
		"slots": q.Len(),
	})
	return q
}

// Reopen pushes a fresh slot for an attribute that failed capability
// validation, clearing the rejected value. The valid set becomes the
// candidate list so the re-prompt can show it.
func (e *Engine) Reopen(q *Queue, res *intent.Result, slot *models.AmbiguitySlot, allowed []string) {
	if slot.SessionLevel {
		delete(res.Session, slot.Attribute)
		delete(res.SessionConfidence, slot.Attribute)
	} else if it := findIntent(res.Intents, slot.IntentName); it != nil {
		delete(it.Attributes, slot.Attribute)
		delete(it.Confidence, slot.Attribute)
		delete(it.Provenance, slot.Attribute)
	}
	reopened := &models.AmbiguitySlot{
		Kind:         slot.Kind,
		IntentName:   slot.IntentName,
		Attribute:    slot.Attribute,
		Prompt:       slot.Prompt,
		Candidates:   allowed,
		State:        models.SlotOpen,
		SessionLevel: slot.SessionLevel,
	}
	q.slots = append([]*models.AmbiguitySlot{reopened}, q.slots...)
}

// ==========================
// 3. Answer Handling
// ==========================

// Answer validates one reply against the slot's attribute spec. A valid
// answer merges into the intent set and closes the slot. An invalid answer
// keeps the slot open and re-prompts, up to the attempt bound; after that
// the slot is closed with the lexicon default and a recorded warning.
func (e *Engine) Answer(q *Queue, res *intent.Result, slot *models.AmbiguitySlot, answer string) (*models.Warning, error) {
	spec := e.attributeSpec(slot)
	if spec == nil {
		return nil, fmt.Errorf("no attribute spec for slot %s.%s", slot.Kind, slot.Attribute)
	}

	answer = strings.TrimSpace(answer)
	if err := validateAnswer(spec, answer); err != nil {
		slot.Attempts++
		if slot.Attempts >= e.maxAttempts {
			w := e.applyDefault(q, res, slot, spec)
			return w, nil
		}
		return nil, pipelineerrors.NewInvalidAnswerError(slot.Attribute, err)
	}

	e.merge(res, slot, answer, models.ProvenanceUserAnswered)
	slot.State = models.SlotAnswered
	q.remove(slot)

	e.log.Debug("Slot answered", map[string]interface{}{
		"attribute": slot.Attribute,
		"intent":    slot.IntentName,
		"remaining": q.Len(),
	})
	return nil, nil
}

// applyDefault closes an exhausted slot with the lexicon's documented
// default and records an ATTRIBUTE_DEFAULTED warning.
func (e *Engine) applyDefault(q *Queue, res *intent.Result, slot *models.AmbiguitySlot, spec *lexicon.AttributeSpec) *models.Warning {
	value := e.defaultValue(res, spec)
	e.merge(res, slot, value, models.ProvenanceDefault)
	slot.State = models.SlotDefaulted
	q.remove(slot)

	e.log.Warn("Slot defaulted after repeated invalid answers", map[string]interface{}{
		"attribute": slot.Attribute,
		"intent":    slot.IntentName,
		"default":   value,
	})
	return &models.Warning{
		Code:      string(pipelineerrors.ErrCodeAttributeDefaulted),
		Message:   fmt.Sprintf("no valid answer after %d attempts, using default %q", e.maxAttempts, value),
		Resource:  slot.IntentName,
		Attribute: slot.Attribute,
	}
}

// merge writes one resolved value into the intent set. A user-answered
// attribute is immutable: only another user answer may replace it, so a
// default can never clobber something the user actually said.
func (e *Engine) merge(res *intent.Result, slot *models.AmbiguitySlot, value string, prov models.Provenance) {
	if slot.SessionLevel {
		res.Session[slot.Attribute] = value
		res.SessionConfidence[slot.Attribute] = 1.0
		return
	}
	if it := findIntent(res.Intents, slot.IntentName); it != nil {
		if prov != models.ProvenanceUserAnswered && it.Locked(slot.Attribute, e.threshold) {
			return
		}
		it.SetAttribute(slot.Attribute, value, 1.0, prov)
	}
}

// ==========================
// 4. Defaults
// ==========================

// FillDefaults completes every intent with the lexicon defaults for
// attributes the user was never asked about. Computed defaults resolve
// against the active provider (engine version per engine, default CIDR).
// Runs after the queue is drained so user answers always win.
func (e *Engine) FillDefaults(res *intent.Result) {
	for i := range e.lex.Session {
		spec := &e.lex.Session[i]
		if _, ok := res.Session[spec.Name]; !ok && spec.Default != "" {
			res.Session[spec.Name] = spec.Default
			res.SessionConfidence[spec.Name] = 1.0
		}
	}

	for _, it := range res.Intents {
		kindSpec := e.lex.Kind(it.Kind)
		if kindSpec == nil {
			continue
		}
		for i := range kindSpec.Attributes {
			spec := &kindSpec.Attributes[i]
			if it.HasAttribute(spec.Name) {
				continue
			}
			value := spec.Default
			if spec.DefaultFrom != "" {
				value = e.computedDefault(res, it, spec)
			}
			if value == "" {
				continue
			}
			it.SetAttribute(spec.Name, value, 1.0, models.ProvenanceDefault)
		}
	}
}

// defaultValue resolves the fallback for an exhausted slot. Attributes
// without a literal default fall back to the provider's first known-good
// value for the capability domain.
func (e *Engine) defaultValue(res *intent.Result, spec *lexicon.AttributeSpec) string {
	if spec.Default != "" {
		return spec.Default
	}
	prov := e.activeProvider(res)
	if prov == nil {
		return ""
	}
	switch spec.Capability {
	case lexicon.DomainRegion:
		if len(prov.Snapshot.Regions) > 0 {
			return prov.Snapshot.Regions[0]
		}
	case lexicon.DomainInstanceFamily:
		if t, ok := prov.SizeAliases["small"]; ok {
			return t
		}
	}
	if len(spec.Candidates) > 0 {
		return spec.Candidates[0]
	}
	if len(spec.Enum) > 0 {
		return spec.Enum[0]
	}
	return ""
}

func (e *Engine) computedDefault(res *intent.Result, it *models.ResourceIntent, spec *lexicon.AttributeSpec) string {
	prov := e.activeProvider(res)
	if prov == nil {
		return ""
	}
	switch spec.DefaultFrom {
	case "provider_engine_version":
		return prov.EngineVersion[it.Attributes["engine"]]
	case "provider_default_cidr":
		return prov.DefaultCIDR
	}
	return ""
}

// ==========================
// 5. Helpers
// ==========================

func (e *Engine) attributeSpec(slot *models.AmbiguitySlot) *lexicon.AttributeSpec {
	if slot.SessionLevel {
		return e.lex.SessionAttribute(slot.Attribute)
	}
	kindSpec := e.lex.Kind(slot.Kind)
	if kindSpec == nil {
		return nil
	}
	return kindSpec.Attribute(slot.Attribute)
}

func (e *Engine) promptFor(spec *lexicon.AttributeSpec, res *intent.Result) string {
	if spec.Prompt != "" {
		return spec.Prompt
	}
	return fmt.Sprintf("Choose a value for %s", spec.Name)
}

// candidatesFor prefers the lexicon's likelihood-ordered suggestions, then
// the enum, then the active provider's snapshot for capability domains.
func (e *Engine) candidatesFor(spec *lexicon.AttributeSpec, res *intent.Result) []string {
	if len(spec.Candidates) > 0 {
		return append([]string(nil), spec.Candidates...)
	}
	if len(spec.Enum) > 0 {
		return append([]string(nil), spec.Enum...)
	}
	prov := e.activeProvider(res)
	if prov == nil {
		return nil
	}
	switch spec.Capability {
	case lexicon.DomainRegion:
		return append([]string(nil), prov.Snapshot.Regions...)
	case lexicon.DomainInstanceFamily:
		return append([]string(nil), prov.Snapshot.InstanceTypes...)
	case lexicon.DomainEngineVersion:
		var out []string
		for _, vs := range prov.Snapshot.EngineVersions {
			out = append(out, vs...)
		}
		sort.Strings(out)
		return out
	}
	return nil
}

func (e *Engine) activeProvider(res *intent.Result) *lexicon.ProviderSpec {
	name := res.Session["provider"]
	if name == "" {
		for i := range e.lex.Session {
			if e.lex.Session[i].Name == "provider" {
				name = e.lex.Session[i].Default
			}
		}
	}
	return e.lex.Provider(name)
}

func findIntent(intents []*models.ResourceIntent, name string) *models.ResourceIntent {
	for _, it := range intents {
		if it.Name == name {
			return it
		}
	}
	return nil
}
