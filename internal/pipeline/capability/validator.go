package capability

import (
	"context"
	"sort"
	"sync"
	"time"

	"infra-wizard/internal/common/config"
	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/common/metrics"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/intent"
)

// ==========================
// 1. Validator
// ==========================

// Validator checks resolved attribute values against provider capability
// data. Fetches are the only suspending operations in the pipeline: each is
// bounded by a timeout and a fixed retry budget, and independent fetches for
// one session run concurrently and merge only after all complete.
type Validator struct {
	lex         *lexicon.Lexicon
	adapter     Adapter
	cache       *Cache
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	log         logger.Logger
}

func NewValidator(lex *lexicon.Lexicon, adapter Adapter, cache *Cache, cfg config.ProviderConfig, log logger.Logger) *Validator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	timeout := time.Duration(cfg.FetchTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	backoff := time.Duration(cfg.BackoffBase) * time.Millisecond
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Validator{
		lex:         lex,
		adapter:     adapter,
		cache:       cache,
		timeout:     timeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: backoff,
		log:         log,
	}
}

// Violation reports one attribute value outside the provider's legal set.
// The clarification engine re-opens the matching slot instead of failing
// the session.
type Violation struct {
	Kind         models.ResourceKind
	IntentName   string
	Attribute    string
	Value        string
	Allowed      []string
	SessionLevel bool
}

func (v Violation) Err() *pipelineerrors.StandardError {
	return pipelineerrors.NewCapabilityViolationError(v.IntentName, v.Attribute, v.Value, v.Allowed)
}

// ==========================
// 2. Fact Fetching
// ==========================

// Facts collects one capability fact per requested kind. Live fetches run
// concurrently; on adapter failure the lexicon's last-known-good snapshot is
// substituted and a non-fatal STALE_CAPABILITY_DATA warning recorded.
// Credential errors are never retried and fail the whole call.
func (v *Validator) Facts(ctx context.Context, provider, region string, kinds []models.ResourceKind) (map[models.ResourceKind]*models.CapabilityFact, []models.Warning, error) {
	wanted := dedupeKinds(kinds)
	facts := make(map[models.ResourceKind]*models.CapabilityFact, len(wanted))
	var warnings []models.Warning

	if v.adapter == nil || !v.adapter.Supports(provider) {
		for _, kind := range wanted {
			fact, err := v.lex.SnapshotFact(provider, region, kind)
			if err != nil {
				return nil, nil, err
			}
			facts[kind] = fact
			metrics.CapabilityFetches.WithLabelValues("snapshot").Inc()
		}
		return facts, nil, nil
	}

	type result struct {
		kind    models.ResourceKind
		fact    *models.CapabilityFact
		warning *models.Warning
		err     error
	}

	var pending []models.ResourceKind
	for _, kind := range wanted {
		if fact := v.cache.Get(ctx, provider, region, kind); fact != nil {
			facts[kind] = fact
			metrics.CapabilityFetches.WithLabelValues("cached").Inc()
			continue
		}
		pending = append(pending, kind)
	}

	results := make([]result, len(pending))
	var wg sync.WaitGroup
	for i, kind := range pending {
		wg.Add(1)
		go func(i int, kind models.ResourceKind) {
			defer wg.Done()
			fact, warning, err := v.fetchOne(ctx, provider, region, kind)
			results[i] = result{kind: kind, fact: fact, warning: warning, err: err}
		}(i, kind)
	}
	wg.Wait()

	// Merge only after every outstanding fetch finished.
	for _, r := range results {
		if r.err != nil {
			return nil, nil, r.err
		}
		facts[r.kind] = r.fact
		if r.warning != nil {
			warnings = append(warnings, *r.warning)
		}
		v.cache.Put(ctx, r.fact)
	}
	return facts, warnings, nil
}

// fetchOne fetches a single fact with timeout, bounded retries, and
// exponential backoff, then falls back to the bundled snapshot.
func (v *Validator) fetchOne(ctx context.Context, provider, region string, kind models.ResourceKind) (*models.CapabilityFact, *models.Warning, error) {
	var lastErr error
	for attempt := 0; attempt <= v.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, v.timeout)
		fact, err := v.adapter.FetchCapabilities(attemptCtx, provider, region, kind)
		cancel()
		if err == nil {
			metrics.CapabilityFetches.WithLabelValues("live").Inc()
			return fact, nil, nil
		}
		lastErr = err

		// Credential failures are fatal and never retried; a non-retryable
		// error skips straight to the snapshot fallback.
		if pipelineerrors.IsFatal(err) {
			metrics.CapabilityFetches.WithLabelValues("error").Inc()
			return nil, nil, err
		}
		if !pipelineerrors.IsRetryable(err) || attempt == v.maxRetries {
			break
		}

		delay := v.backoffBase * time.Duration(1<<attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil, pipelineerrors.NewSessionCancelledError()
		}
	}

	v.log.Warn("Capability fetch failed, using bundled snapshot", map[string]interface{}{
		"provider": provider,
		"region":   region,
		"kind":     string(kind),
		"error":    lastErr.Error(),
	})
	metrics.CapabilityFetches.WithLabelValues("stale").Inc()

	fact, err := v.lex.SnapshotFact(provider, region, kind)
	if err != nil {
		return nil, nil, err
	}
	staleErr := pipelineerrors.NewStaleCapabilityDataError(provider, region, lastErr)
	return fact, &models.Warning{
		Code:    string(pipelineerrors.ErrCodeStaleCapabilityData),
		Message: staleErr.Details,
	}, nil
}

// ==========================
// 3. Validation
// ==========================

// Validate checks the session region and every capability-constrained
// attribute against the fetched facts. It is a pure read: re-running it
// against an unchanged fact set never alters an accepted attribute.
func (v *Validator) Validate(res *intent.Result, facts map[models.ResourceKind]*models.CapabilityFact) []Violation {
	var violations []Violation

	if region := res.Session["region"]; region != "" {
		if fact := anyFact(facts); fact != nil && !fact.Permits("region", region) {
			violations = append(violations, Violation{
				Attribute:    "region",
				Value:        region,
				Allowed:      fact.Allowed["region"],
				SessionLevel: true,
			})
		}
	}

	for _, it := range res.Intents {
		kindSpec := v.lex.Kind(it.Kind)
		fact := facts[it.Kind]
		if kindSpec == nil || fact == nil {
			continue
		}
		for i := range kindSpec.Attributes {
			spec := &kindSpec.Attributes[i]
			if spec.Capability == lexicon.DomainNone || !it.HasAttribute(spec.Name) {
				continue
			}
			value := it.Attributes[spec.Name]
			if fact.Permits(spec.Name, value) {
				continue
			}
			violations = append(violations, Violation{
				Kind:       it.Kind,
				IntentName: it.Name,
				Attribute:  spec.Name,
				Value:      value,
				Allowed:    fact.Allowed[spec.Name],
			})
		}
	}
	return violations
}

func anyFact(facts map[models.ResourceKind]*models.CapabilityFact) *models.CapabilityFact {
	for _, kind := range models.AllKinds() {
		if f := facts[kind]; f != nil {
			return f
		}
	}
	return nil
}

func dedupeKinds(kinds []models.ResourceKind) []models.ResourceKind {
	seen := make(map[models.ResourceKind]bool, len(kinds))
	var out []models.ResourceKind
	for _, k := range kinds {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}
