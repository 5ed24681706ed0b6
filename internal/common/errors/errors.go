// Package errors provides standardized error handling for the generation pipeline.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Validation-stage codes: always recoverable by re-prompting.
	ErrCodeAmbiguityUnresolved ErrorCode = "AMBIGUITY_UNRESOLVED"
	ErrCodeCapabilityViolation ErrorCode = "CAPABILITY_VIOLATION"
	ErrCodeInvalidAnswer       ErrorCode = "INVALID_ANSWER"

	// Warnings: recorded on the summary, never abort the session.
	ErrCodeStaleCapabilityData ErrorCode = "STALE_CAPABILITY_DATA"
	ErrCodeAttributeDefaulted  ErrorCode = "ATTRIBUTE_DEFAULTED"

	// Graph/synthesis-stage codes.
	ErrCodeDanglingReference     ErrorCode = "DANGLING_REFERENCE"
	ErrCodeCycleDetected         ErrorCode = "CYCLE_DETECTED"
	ErrCodeTemplateBindingFailed ErrorCode = "TEMPLATE_BINDING_FAILED"
	ErrCodeArtifactCollision     ErrorCode = "ARTIFACT_COLLISION"

	// Provider adapter codes.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeInvalidCredentials  ErrorCode = "INVALID_CREDENTIALS"

	ErrCodeSessionCancelled ErrorCode = "SESSION_CANCELLED"
	ErrCodeCatalogueInvalid ErrorCode = "CATALOGUE_INVALID"
)

// StandardError represents a structured pipeline error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Fatal     bool                   `json:"fatal"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewAmbiguityUnresolvedError marks a slot that is still open; the engine
// re-prompts rather than failing the session.
func NewAmbiguityUnresolvedError(resource, attribute string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAmbiguityUnresolved,
		Message:   "Required attribute is still ambiguous",
		Details:   fmt.Sprintf("resource: %s, attribute: %s", resource, attribute),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidAnswerError rejects a slot answer that failed type or range
// validation; the same slot is re-asked.
func NewInvalidAnswerError(attribute string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidAnswer,
		Message:   "Answer does not match the attribute's declared type or range",
		Details:   fmt.Sprintf("attribute: %s, reason: %v", attribute, cause),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCapabilityViolationError identifies a value the provider does not offer.
// The offending slot is re-opened with the valid set as candidates.
func NewCapabilityViolationError(resource, attribute, value string, allowed []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCapabilityViolation,
		Message:   "Attribute value is not offered by the provider",
		Details:   fmt.Sprintf("resource: %s, attribute: %s, value: %s, allowed: [%s]", resource, attribute, value, strings.Join(allowed, ", ")),
		Retryable: true,
		Metadata: map[string]interface{}{
			"resource":  resource,
			"attribute": attribute,
			"value":     value,
			"allowed":   allowed,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleCapabilityDataError is a non-fatal warning that validation ran
// against the static snapshot instead of live provider data.
func NewStaleCapabilityDataError(provider, region string, cause error) *StandardError {
	details := fmt.Sprintf("provider: %s, region: %s", provider, region)
	if cause != nil {
		details += ", cause: " + cause.Error()
	}
	return &StandardError{
		Code:      ErrCodeStaleCapabilityData,
		Message:   "Capability data served from last-known-good snapshot",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDanglingReferenceError is fatal: a required parent has no node and
// cannot be auto-created. Nothing is written.
func NewDanglingReferenceError(resource, attribute string, parent string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDanglingReference,
		Message:   "Resource references a parent that does not exist",
		Details:   fmt.Sprintf("resource: %s, attribute: %s, missing parent kind: %s", resource, attribute, parent),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCycleDetectedError is fatal and internal: the lexicon's relationship
// rules are DAG-only, so a cycle indicates an ontology defect.
func NewCycleDetectedError(at string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCycleDetected,
		Message:   "Reference cycle in resource graph (ontology defect, report to maintainers)",
		Details:   fmt.Sprintf("detected at node: %s", at),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateBindingFailedError is fatal for one node only; the synthesizer
// records it and continues with independent nodes.
func NewTemplateBindingFailedError(resource string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateBindingFailed,
		Message:   "Template binding failed for resource",
		Details:   fmt.Sprintf("resource: %s, cause: %v", resource, cause),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewArtifactCollisionError surfaces both paths so the caller can choose
// overwrite or rename; the batch is never auto-resolved.
func NewArtifactCollisionError(artifactPath, existingPath string) *StandardError {
	return &StandardError{
		Code:      ErrCodeArtifactCollision,
		Message:   "Generated artifact collides with an existing file",
		Details:   fmt.Sprintf("artifact: %s, existing: %s", artifactPath, existingPath),
		Retryable: false,
		Fatal:     true,
		Metadata: map[string]interface{}{
			"artifact": artifactPath,
			"existing": existingPath,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnavailableError creates a retryable adapter connectivity error.
func NewProviderUnavailableError(provider string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderUnavailable,
		Message:   "Provider adapter unavailable",
		Details:   fmt.Sprintf("provider: %s, cause: %v", provider, cause),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTimeoutError creates a retryable adapter timeout error.
func NewProviderTimeoutError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTimeout,
		Message:   "Provider adapter call timed out",
		Details:   fmt.Sprintf("provider: %s", provider),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidCredentialsError is fatal and never retried; the session aborts
// before any file write.
func NewInvalidCredentialsError(provider string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidCredentials,
		Message:   "Provider rejected the configured credentials",
		Details:   fmt.Sprintf("provider: %s, cause: %v", provider, cause),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionCancelledError records a user abort at a pending slot.
func NewSessionCancelledError() *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionCancelled,
		Message:   "Session cancelled by user",
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCatalogueInvalidError reports a lexicon or template catalogue document
// that failed schema validation.
func NewCatalogueInvalidError(document string, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogueInvalid,
		Message:   "Catalogue document failed schema validation",
		Details:   fmt.Sprintf("document: %s, %s", document, details),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}
