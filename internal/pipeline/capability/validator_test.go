package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-wizard/internal/common/config"
	"infra-wizard/internal/common/database"
	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/intent"
)

// fakeAdapter scripts FetchCapabilities per test.
type fakeAdapter struct {
	fetch func(ctx context.Context, provider, region string, kind models.ResourceKind) (*models.CapabilityFact, error)
	calls int64
}

func (f *fakeAdapter) Supports(provider string) bool { return provider == "aws" }

func (f *fakeAdapter) FetchCapabilities(ctx context.Context, provider, region string, kind models.ResourceKind) (*models.CapabilityFact, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.fetch(ctx, provider, region, kind)
}

func liveFact(provider, region string, kind models.ResourceKind) *models.CapabilityFact {
	allowed := map[string][]string{
		"region": {"us-east-1", "us-west-2"},
	}
	if kind == models.KindCompute {
		allowed["instance_type"] = []string{"t2.micro", "t3.small", "t3.medium"}
	}
	return &models.CapabilityFact{
		Provider:  provider,
		Region:    region,
		Kind:      kind,
		Allowed:   allowed,
		FetchedAt: time.Now().UTC(),
	}
}

func newTestValidator(t *testing.T, adapter Adapter, cache *Cache) *Validator {
	t.Helper()
	lex, err := lexicon.Default()
	require.NoError(t, err)
	cfg := config.ProviderConfig{FetchTimeout: 1000, MaxRetries: 2, BackoffBase: 1}
	return NewValidator(lex, adapter, cache, cfg, logger.NewTestLogger(t))
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	return NewCache(client, 15*time.Minute, logger.NewTestLogger(t)), mr
}

// ==========================
// 1. Fetching
// ==========================

func TestFacts_LiveFetchesMergeAfterCompletion(t *testing.T) {
	adapter := &fakeAdapter{fetch: func(_ context.Context, provider, region string, kind models.ResourceKind) (*models.CapabilityFact, error) {
		return liveFact(provider, region, kind), nil
	}}
	v := newTestValidator(t, adapter, nil)

	kinds := []models.ResourceKind{models.KindCompute, models.KindNetwork, models.KindCompute}
	facts, warnings, err := v.Facts(context.Background(), "aws", "us-east-1", kinds)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, facts, 2)
	assert.EqualValues(t, 2, atomic.LoadInt64(&adapter.calls), "duplicate kinds fetch once")
	assert.False(t, facts[models.KindCompute].Stale)
}

func TestFacts_AdapterFailureFallsBackToSnapshot(t *testing.T) {
	adapter := &fakeAdapter{fetch: func(context.Context, string, string, models.ResourceKind) (*models.CapabilityFact, error) {
		return nil, pipelineerrors.NewProviderUnavailableError("aws", errors.New("connection refused"))
	}}
	v := newTestValidator(t, adapter, nil)

	facts, warnings, err := v.Facts(context.Background(), "aws", "us-east-1", []models.ResourceKind{models.KindCompute})
	require.NoError(t, err)

	// Initial attempt plus two retries.
	assert.EqualValues(t, 3, atomic.LoadInt64(&adapter.calls))

	require.Len(t, warnings, 1)
	assert.Equal(t, string(pipelineerrors.ErrCodeStaleCapabilityData), warnings[0].Code)

	fact := facts[models.KindCompute]
	require.NotNil(t, fact)
	assert.True(t, fact.Stale)
	assert.Contains(t, fact.Allowed["instance_type"], "t2.micro")
}

func TestFacts_CredentialErrorIsFatalAndNeverRetried(t *testing.T) {
	adapter := &fakeAdapter{fetch: func(context.Context, string, string, models.ResourceKind) (*models.CapabilityFact, error) {
		return nil, pipelineerrors.NewInvalidCredentialsError("aws", errors.New("AuthFailure"))
	}}
	v := newTestValidator(t, adapter, nil)

	_, _, err := v.Facts(context.Background(), "aws", "us-east-1", []models.ResourceKind{models.KindCompute})
	require.Error(t, err)
	assert.True(t, pipelineerrors.IsCode(err, pipelineerrors.ErrCodeInvalidCredentials))
	assert.EqualValues(t, 1, atomic.LoadInt64(&adapter.calls))
}

func TestFacts_NonRetryableErrorSkipsRetries(t *testing.T) {
	adapter := &fakeAdapter{fetch: func(context.Context, string, string, models.ResourceKind) (*models.CapabilityFact, error) {
		return nil, &pipelineerrors.StandardError{Code: "UNSUPPORTED_QUERY", Message: "capability query not supported"}
	}}
	v := newTestValidator(t, adapter, nil)

	facts, warnings, err := v.Facts(context.Background(), "aws", "us-east-1", []models.ResourceKind{models.KindCompute})
	require.NoError(t, err)

	// Single attempt, no backoff rounds, straight to the snapshot.
	assert.EqualValues(t, 1, atomic.LoadInt64(&adapter.calls))
	require.Len(t, warnings, 1)
	assert.Equal(t, string(pipelineerrors.ErrCodeStaleCapabilityData), warnings[0].Code)
	assert.True(t, facts[models.KindCompute].Stale)
}

func TestFacts_UnsupportedProviderUsesSnapshotWithoutWarning(t *testing.T) {
	adapter := &fakeAdapter{fetch: func(context.Context, string, string, models.ResourceKind) (*models.CapabilityFact, error) {
		t.Fatal("adapter must not be called for unsupported providers")
		return nil, nil
	}}
	v := newTestValidator(t, adapter, nil)

	facts, warnings, err := v.Facts(context.Background(), "azure", "westeurope", []models.ResourceKind{models.KindCompute})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Contains(t, facts[models.KindCompute].Allowed["instance_type"], "Standard_B2s")
}

func TestFacts_CacheHitSkipsAdapter(t *testing.T) {
	cache, _ := newTestCache(t)
	adapter := &fakeAdapter{fetch: func(_ context.Context, provider, region string, kind models.ResourceKind) (*models.CapabilityFact, error) {
		return liveFact(provider, region, kind), nil
	}}
	v := newTestValidator(t, adapter, cache)

	ctx := context.Background()
	kinds := []models.ResourceKind{models.KindCompute}

	_, _, err := v.Facts(ctx, "aws", "us-east-1", kinds)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt64(&adapter.calls))

	facts, warnings, err := v.Facts(ctx, "aws", "us-east-1", kinds)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.EqualValues(t, 1, atomic.LoadInt64(&adapter.calls), "second call served from cache")
	assert.Equal(t, []string{"t2.micro", "t3.small", "t3.medium"}, facts[models.KindCompute].Allowed["instance_type"])
}

func TestCache_StaleFactsAreNeverStored(t *testing.T) {
	cache, mr := newTestCache(t)
	cache.Put(context.Background(), &models.CapabilityFact{
		Provider: "aws", Region: "us-east-1", Kind: models.KindCompute, Stale: true,
	})
	assert.Empty(t, mr.Keys())
}

// ==========================
// 2. Validation
// ==========================

func extractResolved(t *testing.T, utterance string) *intent.Result {
	t.Helper()
	lex, err := lexicon.Default()
	require.NoError(t, err)
	e := intent.NewExtractor(lex, nil, logger.NewTestLogger(t))
	res, err := e.Extract(utterance, intent.Options{})
	require.NoError(t, err)
	return res
}

func TestValidate_RejectsUnknownInstanceFamily(t *testing.T) {
	v := newTestValidator(t, nil, nil)
	res := extractResolved(t, "deploy a server in us-east-1")
	compute := res.Intents[0]
	compute.SetAttribute("instance_type", "t9.mega", 1.0, models.ProvenanceUserAnswered)

	facts := map[models.ResourceKind]*models.CapabilityFact{
		models.KindCompute: liveFact("aws", "us-east-1", models.KindCompute),
	}

	violations := v.Validate(res, facts)
	require.Len(t, violations, 1)
	violation := violations[0]
	assert.Equal(t, "instance_type", violation.Attribute)
	assert.Equal(t, "t9.mega", violation.Value)
	assert.Equal(t, compute.Name, violation.IntentName)
	assert.Equal(t, []string{"t2.micro", "t3.small", "t3.medium"}, violation.Allowed)

	stdErr := violation.Err()
	assert.Equal(t, pipelineerrors.ErrCodeCapabilityViolation, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

func TestValidate_RejectsUnknownRegion(t *testing.T) {
	v := newTestValidator(t, nil, nil)
	res := extractResolved(t, "deploy a small server")
	res.Session["region"] = "mars-north-1"

	facts := map[models.ResourceKind]*models.CapabilityFact{
		models.KindCompute: liveFact("aws", "us-east-1", models.KindCompute),
	}

	violations := v.Validate(res, facts)
	require.Len(t, violations, 1)
	assert.True(t, violations[0].SessionLevel)
	assert.Equal(t, "region", violations[0].Attribute)
}

func TestValidate_IsIdempotentAgainstUnchangedFacts(t *testing.T) {
	v := newTestValidator(t, nil, nil)
	res := extractResolved(t, "deploy a small server in us-east-1")

	facts := map[models.ResourceKind]*models.CapabilityFact{
		models.KindCompute: liveFact("aws", "us-east-1", models.KindCompute),
	}

	first := v.Validate(res, facts)
	assert.Empty(t, first)

	before := res.Intents[0].Attributes["instance_type"]
	second := v.Validate(res, facts)
	assert.Empty(t, second)
	assert.Equal(t, before, res.Intents[0].Attributes["instance_type"])
}
