// Package session orchestrates one end-to-end generation run: extraction,
// clarification, capability validation, graph construction, synthesis,
// confirmation and project assembly.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/common/metrics"
	"infra-wizard/internal/common/observability"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/notify"
	"infra-wizard/internal/pipeline/assemble"
	"infra-wizard/internal/pipeline/capability"
	"infra-wizard/internal/pipeline/clarify"
	"infra-wizard/internal/pipeline/graph"
	"infra-wizard/internal/pipeline/intent"
	"infra-wizard/internal/pipeline/synth"
	"infra-wizard/internal/store"
)

// maxValidationPasses bounds the clarify/validate loop: a slot can be
// re-opened by capability validation at most this many times before the
// session gives up with AMBIGUITY_UNRESOLVED.
const maxValidationPasses = 3

// Frontend is the interactive surface of a session. AskSlot blocks until the
// user replies; Confirm shows the pending summary before anything is written.
type Frontend interface {
	AskSlot(ctx context.Context, slot *models.AmbiguitySlot) (string, error)
	Confirm(summary *models.SessionSummary, artifacts []models.SynthesizedArtifact) bool
}

// Deps bundles the orchestrator's collaborators. Store and Sink are
// optional; everything else is required.
type Deps struct {
	Lexicon        *lexicon.Lexicon
	Extractor      *intent.Extractor
	Engine         *clarify.Engine
	Validator      *capability.Validator
	Builder        *graph.Builder
	Synthesizer    *synth.Synthesizer
	Assembler      *assemble.Assembler
	Frontend       Frontend
	Store          store.SessionStore
	Sink           notify.Sink
	Obs            *observability.Observability
	Provider       string // session default when the utterance names none
	Environment    string
	MaxSubnetSplit int
	Log            logger.Logger
}

// Orchestrator drives sessions. It is stateless between runs; every Run call
// is independent.
type Orchestrator struct {
	deps Deps
	log  logger.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = logger.NewNoOpLogger()
	}
	if deps.Environment == "" {
		deps.Environment = "dev"
	}
	return &Orchestrator{deps: deps, log: deps.Log}
}

// ==========================
// 1. Session Run
// ==========================

// Run executes one session. The returned summary is always populated, even
// for aborted sessions; the error explains any non-success status.
func (o *Orchestrator) Run(ctx context.Context, utterance string) (*models.SessionSummary, error) {
	metrics.SessionsStarted.Inc()
	summary := &models.SessionSummary{
		SessionID:   uuid.NewString(),
		Utterance:   utterance,
		Environment: o.deps.Environment,
		StartedAt:   time.Now().UTC(),
	}
	o.log.Info("session started", map[string]interface{}{
		"sessionId": summary.SessionID,
	})

	err := o.run(ctx, utterance, summary)
	if err != nil && summary.Status == "" {
		summary.Status = models.StatusAborted
	}
	summary.FinishedAt = time.Now().UTC()
	metrics.SessionsCompleted.WithLabelValues(string(summary.Status)).Inc()

	if o.deps.Store != nil {
		if saveErr := o.deps.Store.Save(context.WithoutCancel(ctx), summary); saveErr != nil {
			o.log.WithError(saveErr).Warn("failed to persist session summary", map[string]interface{}{
				"sessionId": summary.SessionID,
			})
		}
	}
	if o.deps.Sink != nil {
		if notifyErr := o.deps.Sink.Notify(context.WithoutCancel(ctx), summary); notifyErr != nil {
			o.log.WithError(notifyErr).Warn("failed to deliver session summary", map[string]interface{}{
				"sessionId": summary.SessionID,
			})
		}
	}
	return summary, err
}

func (o *Orchestrator) run(ctx context.Context, utterance string, summary *models.SessionSummary) error {
	// --- extraction ---
	var res *intent.Result
	err := o.stage(ctx, "extract", func() error {
		var err error
		res, err = o.deps.Extractor.Extract(utterance, intent.Options{
			Provider:       o.deps.Provider,
			MaxSubnetSplit: o.deps.MaxSubnetSplit,
		})
		return err
	})
	if err != nil {
		return err
	}
	if res.Action != intent.ActionCreate {
		return fmt.Errorf("unsupported action %q: only resource creation is supported", res.Action)
	}
	if len(res.Intents) == 0 {
		return fmt.Errorf("no resources recognized in %q", utterance)
	}

	// --- clarification and capability validation ---
	var (
		warnings []models.Warning
		facts    map[models.ResourceKind]*models.CapabilityFact
	)
	q := o.deps.Engine.BuildQueue(res)
	for pass := 1; ; pass++ {
		if err := o.drainQueue(ctx, q, res, &warnings); err != nil {
			return err
		}
		o.deps.Engine.FillDefaults(res)

		provider := res.Session["provider"]
		region := res.Session["region"]
		summary.Provider, summary.Region = provider, region

		var fetchWarnings []models.Warning
		err = o.stage(ctx, "capability", func() error {
			var err error
			facts, fetchWarnings, err = o.deps.Validator.Facts(ctx, provider, region, intentKinds(res))
			return err
		})
		if err != nil {
			return err
		}
		warnings = append(warnings, fetchWarnings...)

		violations := o.deps.Validator.Validate(res, facts)
		if len(violations) == 0 {
			break
		}
		if pass >= maxValidationPasses {
			v := violations[0]
			return pipelineerrors.NewAmbiguityUnresolvedError(v.IntentName, v.Attribute)
		}
		for i := len(violations) - 1; i >= 0; i-- {
			v := violations[i]
			o.deps.Engine.Reopen(q, res, o.violationSlot(v), v.Allowed)
		}
		o.log.Info("re-opening slots after capability violations", map[string]interface{}{
			"violations": len(violations),
			"pass":       pass,
		})
	}

	// --- graph ---
	var g *graph.Graph
	err = o.stage(ctx, "graph", func() error {
		var err error
		g, err = o.deps.Builder.Build(res)
		return err
	})
	if err != nil {
		return err
	}

	// --- synthesis ---
	var out *synth.Output
	err = o.stage(ctx, "synth", func() error {
		var err error
		out, err = o.deps.Synthesizer.Synthesize(synth.Input{
			Provider:    summary.Provider,
			Region:      summary.Region,
			Environment: o.deps.Environment,
			Graph:       g,
		})
		return err
	})
	if err != nil {
		return err
	}
	warnings = append(warnings, out.Warnings...)
	summary.Warnings = warnings
	summary.Counts = survivingCounts(g, out.Excluded)
	if len(out.Artifacts) == 0 {
		return fmt.Errorf("no artifacts to write: every resource failed synthesis")
	}

	// --- confirmation ---
	if o.deps.Frontend != nil && !o.deps.Frontend.Confirm(summary, out.Artifacts) {
		return pipelineerrors.NewSessionCancelledError()
	}
	if err := ctx.Err(); err != nil {
		return pipelineerrors.NewSessionCancelledError()
	}

	// --- assembly ---
	var infos []models.ArtifactInfo
	err = o.stage(ctx, "assemble", func() error {
		var err error
		infos, err = o.deps.Assembler.Write(out.Artifacts)
		return err
	})
	if err != nil {
		return err
	}
	summary.Artifacts = infos

	summary.Status = models.StatusSuccess
	if len(out.Excluded) > 0 {
		summary.Status = models.StatusPartial
	}
	o.log.Info("session finished", map[string]interface{}{
		"sessionId": summary.SessionID,
		"status":    string(summary.Status),
		"artifacts": len(infos),
	})
	return nil
}

// ==========================
// 2. Clarification Loop
// ==========================

// drainQueue asks every open slot through the frontend. Invalid answers
// re-ask the same slot; the engine closes it with a default once the attempt
// bound is exhausted.
func (o *Orchestrator) drainQueue(ctx context.Context, q *clarify.Queue, res *intent.Result, warnings *[]models.Warning) error {
	for !q.Empty() {
		if err := ctx.Err(); err != nil {
			return pipelineerrors.NewSessionCancelledError()
		}
		slot := q.Next()
		metrics.SlotsAsked.WithLabelValues(slot.Attribute).Inc()

		if o.deps.Frontend == nil {
			return pipelineerrors.NewAmbiguityUnresolvedError(slot.IntentName, slot.Attribute)
		}
		answer, err := o.deps.Frontend.AskSlot(ctx, slot)
		if err != nil {
			return pipelineerrors.NewSessionCancelledError()
		}

		w, err := o.deps.Engine.Answer(q, res, slot, answer)
		if w != nil {
			*warnings = append(*warnings, *w)
			metrics.SlotsDefaulted.WithLabelValues(slot.Attribute).Inc()
		}
		if err != nil && !pipelineerrors.IsCode(err, pipelineerrors.ErrCodeInvalidAnswer) {
			return err
		}
	}
	return nil
}

// violationSlot rebuilds the ambiguity slot matching a capability violation.
func (o *Orchestrator) violationSlot(v capability.Violation) *models.AmbiguitySlot {
	slot := &models.AmbiguitySlot{
		Kind:         v.Kind,
		IntentName:   v.IntentName,
		Attribute:    v.Attribute,
		State:        models.SlotOpen,
		SessionLevel: v.SessionLevel,
	}
	var spec *lexicon.AttributeSpec
	if v.SessionLevel {
		spec = o.deps.Lexicon.SessionAttribute(v.Attribute)
	} else if kindSpec := o.deps.Lexicon.Kind(v.Kind); kindSpec != nil {
		spec = kindSpec.Attribute(v.Attribute)
	}
	if spec != nil {
		slot.Prompt = spec.Prompt
	}
	if slot.Prompt == "" {
		slot.Prompt = fmt.Sprintf("Please choose a valid value for %s", v.Attribute)
	}
	return slot
}

// ==========================
// 3. Helpers
// ==========================

func (o *Orchestrator) stage(ctx context.Context, name string, fn func() error) error {
	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues(name))
	started := time.Now()
	err := fn()
	timer.ObserveDuration()
	if o.deps.Obs != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.deps.Obs.RecordStage(ctx, name, status)
		o.deps.Obs.RecordStageDuration(ctx, name, time.Since(started))
	}
	return err
}

func intentKinds(res *intent.Result) []models.ResourceKind {
	kinds := make([]models.ResourceKind, 0, len(res.Intents))
	for _, it := range res.Intents {
		kinds = append(kinds, it.Kind)
	}
	return kinds
}

// survivingCounts tallies graph nodes that made it into the project.
func survivingCounts(g *graph.Graph, excluded []string) map[models.ResourceKind]int {
	dropped := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		dropped[id] = true
	}
	counts := make(map[models.ResourceKind]int)
	for _, n := range g.Ordered {
		if !dropped[n.ID] {
			counts[n.Kind]++
		}
	}
	return counts
}
