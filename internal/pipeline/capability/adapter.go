package capability

import (
	"context"

	"infra-wizard/internal/models"
)

// Adapter fetches live capability data from a cloud provider. The pipeline
// treats the returned fact as an immutable snapshot; fetch failures fall
// back to the lexicon's bundled capability snapshot.
type Adapter interface {
	// FetchCapabilities returns the legal attribute-value sets for one
	// (provider, region, kind). Errors carry the pipeline error codes:
	// PROVIDER_UNAVAILABLE, PROVIDER_TIMEOUT, or INVALID_CREDENTIALS.
	FetchCapabilities(ctx context.Context, provider, region string, kind models.ResourceKind) (*models.CapabilityFact, error)

	// Supports reports whether the adapter can serve live data for a
	// provider. Unsupported providers validate against the bundled
	// snapshot without raising a staleness warning.
	Supports(provider string) bool
}
