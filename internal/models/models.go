// Package models defines the data model shared by the pipeline stages.
package models

import "time"

// ResourceKind enumerates the resource categories the pipeline understands.
type ResourceKind string

const (
	KindNetwork      ResourceKind = "network"
	KindSubnet       ResourceKind = "subnet"
	KindCompute      ResourceKind = "compute"
	KindDatabase     ResourceKind = "database"
	KindSecurityRule ResourceKind = "security_rule"
	KindMonitor      ResourceKind = "monitor"
)

// Priority returns the fixed ordering used for clarification questions and
// topological tie-breaks. Lower sorts first.
func (k ResourceKind) Priority() int {
	switch k {
	case KindNetwork:
		return 0
	case KindSubnet:
		return 1
	case KindCompute:
		return 2
	case KindDatabase:
		return 3
	case KindSecurityRule:
		return 4
	case KindMonitor:
		return 5
	default:
		return 6
	}
}

// AllKinds lists every kind in priority order.
func AllKinds() []ResourceKind {
	return []ResourceKind{
		KindNetwork, KindSubnet, KindCompute,
		KindDatabase, KindSecurityRule, KindMonitor,
	}
}

// Provenance records how an attribute value entered the session.
type Provenance string

const (
	ProvenanceUtterance    Provenance = "utterance"
	ProvenanceUserAnswered Provenance = "user_answered"
	ProvenanceDefault      Provenance = "default"
)

// ResourceIntent is a structured hypothesis extracted from user input.
// Unique per (Kind, Name) within a session. Attributes the user never
// mentioned are absent, never defaulted, so downstream stages can tell
// "unspecified" from "explicitly chosen".
type ResourceIntent struct {
	Kind       ResourceKind          `json:"kind"`
	Name       string                `json:"name"`
	Attributes map[string]string     `json:"attributes"`
	Confidence map[string]float64    `json:"confidence"`
	Provenance map[string]Provenance `json:"provenance"`
	Declared   int                   `json:"declared"` // declaration order within the utterance
}

// NewResourceIntent returns an intent with initialized maps.
func NewResourceIntent(kind ResourceKind, name string, declared int) *ResourceIntent {
	return &ResourceIntent{
		Kind:       kind,
		Name:       name,
		Attributes: make(map[string]string),
		Confidence: make(map[string]float64),
		Provenance: make(map[string]Provenance),
		Declared:   declared,
	}
}

// SetAttribute records a value with its confidence and provenance.
func (r *ResourceIntent) SetAttribute(name, value string, confidence float64, prov Provenance) {
	r.Attributes[name] = value
	r.Confidence[name] = confidence
	r.Provenance[name] = prov
}

// HasAttribute reports whether the attribute has any value at all.
func (r *ResourceIntent) HasAttribute(name string) bool {
	_, ok := r.Attributes[name]
	return ok
}

// Locked reports whether the attribute may no longer be mutated: a
// user-answered value at or above the threshold is immutable.
func (r *ResourceIntent) Locked(attr string, threshold float64) bool {
	return r.Provenance[attr] == ProvenanceUserAnswered && r.Confidence[attr] >= threshold
}

// SlotState tracks the lifecycle of an ambiguity slot.
type SlotState string

const (
	SlotOpen      SlotState = "open"
	SlotAnswered  SlotState = "answered"
	SlotDefaulted SlotState = "defaulted"
)

// AmbiguitySlot is one outstanding question about a missing or uncertain
// attribute. SessionLevel slots (provider, region) are not tied to a kind.
type AmbiguitySlot struct {
	Kind         ResourceKind `json:"kind,omitempty"`
	IntentName   string       `json:"intentName,omitempty"`
	Attribute    string       `json:"attribute"`
	Prompt       string       `json:"prompt"`
	Candidates   []string     `json:"candidates,omitempty"` // ordered by estimated likelihood
	State        SlotState    `json:"state"`
	Attempts     int          `json:"attempts"`
	SessionLevel bool         `json:"sessionLevel,omitempty"`
}

// CapabilityFact is a provider-reported constraint on legal attribute values
// for one (provider, region, kind). Immutable once fetched.
type CapabilityFact struct {
	Provider  string              `json:"provider"`
	Region    string              `json:"region"`
	Kind      ResourceKind        `json:"kind"`
	Allowed   map[string][]string `json:"allowed"` // attribute -> legal values
	Stale     bool                `json:"stale"`   // served from the static snapshot
	FetchedAt time.Time           `json:"fetchedAt"`
}

// Permits reports whether value is legal for the attribute. Attributes the
// fact carries no entry for are unconstrained.
func (f *CapabilityFact) Permits(attribute, value string) bool {
	allowed, ok := f.Allowed[attribute]
	if !ok {
		return true
	}
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}

// Reference is an outbound edge from one resource node to another.
type Reference struct {
	Attribute string `json:"attribute"` // attribute carrying the reference
	TargetID  string `json:"targetId"`
}

// ResourceNode is a finalized resource in the graph. IDs are the logical
// intent names, which keeps generated artifacts deterministic.
type ResourceNode struct {
	ID         string            `json:"id"`
	Kind       ResourceKind      `json:"kind"`
	Attributes map[string]string `json:"attributes"`
	Refs       []Reference       `json:"refs,omitempty"`
	Declared   int               `json:"declared"`
}

// SynthesizedArtifact is one generated file plus its content hash.
type SynthesizedArtifact struct {
	Path    string `json:"path"` // relative to the project root
	Content []byte `json:"-"`
	SHA256  string `json:"sha256"`
}

// Warning is a non-fatal condition recorded on the session summary.
type Warning struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Resource  string `json:"resource,omitempty"`
	Attribute string `json:"attribute,omitempty"`
}

// SessionStatus is the terminal state of a generation session.
type SessionStatus string

const (
	StatusSuccess SessionStatus = "success"
	StatusPartial SessionStatus = "partial"
	StatusAborted SessionStatus = "aborted"
)

// ArtifactInfo is the summary view of one written artifact.
type ArtifactInfo struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
}

// SessionSummary is the terminal, read-only output of a session.
type SessionSummary struct {
	SessionID   string               `json:"sessionId"`
	Utterance   string               `json:"utterance"`
	Provider    string               `json:"provider"`
	Region      string               `json:"region"`
	Environment string               `json:"environment"`
	Status      SessionStatus        `json:"status"`
	Counts      map[ResourceKind]int `json:"counts"`
	Warnings    []Warning            `json:"warnings,omitempty"`
	Artifacts   []ArtifactInfo       `json:"artifacts,omitempty"`
	StartedAt   time.Time            `json:"startedAt"`
	FinishedAt  time.Time            `json:"finishedAt"`
}

// TotalResources sums the per-kind counts.
func (s *SessionSummary) TotalResources() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}
