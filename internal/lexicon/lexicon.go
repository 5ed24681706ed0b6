// Package lexicon holds the static catalogue of resource kinds, their
// attributes, cross-resource reference rules and per-provider capability
// snapshots. It is loaded once at startup and never mutated.
package lexicon

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"infra-wizard/internal/models"
)

// AttributeType tags how an attribute value is parsed, validated and rendered.
type AttributeType string

const (
	TypeString AttributeType = "string"
	TypeInt    AttributeType = "int"
	TypeCIDR   AttributeType = "cidr"
	TypeBool   AttributeType = "bool"
)

// CapabilityDomain names a provider-constrained value domain. Attributes with
// an empty domain are validated statically from the lexicon alone.
type CapabilityDomain string

const (
	DomainNone           CapabilityDomain = ""
	DomainRegion         CapabilityDomain = "region"
	DomainInstanceFamily CapabilityDomain = "instance_family"
	DomainEngineVersion  CapabilityDomain = "engine_version"
)

// AttributeSpec declares one attribute of a resource kind.
type AttributeSpec struct {
	Name        string           `yaml:"name"`
	Type        AttributeType    `yaml:"type"`
	Required    bool             `yaml:"required"`
	Ask         bool             `yaml:"ask"` // raise a clarification slot when absent
	Default     string           `yaml:"default"`
	DefaultFrom string           `yaml:"default_from"` // computed default, e.g. provider_engine_version
	Prompt      string           `yaml:"prompt"`
	Description string           `yaml:"description"`
	Enum        []string         `yaml:"enum"`
	Candidates  []string         `yaml:"candidates"` // likelihood-ordered slot suggestions
	Min         *int             `yaml:"min"`
	Max         *int             `yaml:"max"`
	Capability  CapabilityDomain `yaml:"capability"`
	Overridable bool             `yaml:"overridable"` // emitted as a variable declaration
	Exposed     bool             `yaml:"exposed"`     // emitted as an output declaration
	Sensitive   bool             `yaml:"sensitive"`
}

// KindSpec declares a resource kind: its utterance vocabulary and attributes.
type KindSpec struct {
	Kind          models.ResourceKind `yaml:"kind"`
	Keywords      []string            `yaml:"keywords"`
	MultiInstance bool                `yaml:"multi_instance"` // quantities expand into N intents
	Attributes    []AttributeSpec     `yaml:"attributes"`
}

// Attribute returns the spec for a named attribute, or nil.
func (k *KindSpec) Attribute(name string) *AttributeSpec {
	for i := range k.Attributes {
		if k.Attributes[i].Name == name {
			return &k.Attributes[i]
		}
	}
	return nil
}

// RelationshipRule declares a reference edge the graph builder must create.
// Rules are DAG-only: To always has strictly higher priority than From would
// need to close a cycle, and the loader rejects rules that relate a kind to
// itself.
type RelationshipRule struct {
	From       models.ResourceKind `yaml:"from"`
	Attribute  string              `yaml:"attribute"`
	To         models.ResourceKind `yaml:"to"`
	Required   bool                `yaml:"required"`
	Optional   bool                `yaml:"optional"`    // attach only when a target exists
	AutoCreate bool                `yaml:"auto_create"` // missing parent is created from defaults
	Implies    models.ResourceKind `yaml:"implies"`     // edge implies an extra node of this kind
}

// CapabilitySnapshot is the last-known-good capability data bundled with the
// lexicon, used when the provider adapter is unreachable.
type CapabilitySnapshot struct {
	Regions        []string            `yaml:"regions"`
	InstanceTypes  []string            `yaml:"instance_types"`
	Engines        []string            `yaml:"engines"`
	EngineVersions map[string][]string `yaml:"engine_versions"`
}

// ProviderSpec declares everything the pipeline knows about one provider.
type ProviderSpec struct {
	Name          string                         `yaml:"name"`
	ResourceTypes map[models.ResourceKind]string `yaml:"resource_types"`
	SizeAliases   map[string]string              `yaml:"size_aliases"` // small -> t3.small
	EngineVersion map[string]string              `yaml:"engine_version"`
	Images        map[string]string              `yaml:"images"`
	DefaultCIDR   string                         `yaml:"default_cidr"`
	Snapshot      CapabilitySnapshot             `yaml:"snapshot"`
}

// Lexicon is the immutable process-wide catalogue.
type Lexicon struct {
	Kinds     map[models.ResourceKind]*KindSpec `yaml:"-"`
	KindList  []KindSpec                        `yaml:"kinds"`
	Rules     []RelationshipRule                `yaml:"relationships"`
	Providers map[string]*ProviderSpec          `yaml:"-"`
	ProvList  []ProviderSpec                    `yaml:"providers"`
	Session   []AttributeSpec                   `yaml:"session_attributes"`
}

// Kind returns the spec for a kind, or nil.
func (l *Lexicon) Kind(kind models.ResourceKind) *KindSpec {
	return l.Kinds[kind]
}

// Provider returns the spec for a provider, or nil.
func (l *Lexicon) Provider(name string) *ProviderSpec {
	return l.Providers[name]
}

// SessionAttribute returns the session-level attribute spec (provider, region).
func (l *Lexicon) SessionAttribute(name string) *AttributeSpec {
	for i := range l.Session {
		if l.Session[i].Name == name {
			return &l.Session[i]
		}
	}
	return nil
}

// KindForKeyword maps an utterance token or phrase to a resource kind.
func (l *Lexicon) KindForKeyword(word string) (models.ResourceKind, bool) {
	word = strings.ToLower(word)
	for _, kind := range models.AllKinds() {
		spec := l.Kinds[kind]
		if spec == nil {
			continue
		}
		for _, kw := range spec.Keywords {
			if kw == word {
				return kind, true
			}
		}
	}
	return "", false
}

// ProviderForInstanceType finds which provider offers an instance type.
// Matching is case-insensitive and the catalogue's canonical spelling is
// returned, so a spoken "standard_b2s" still resolves to Standard_B2s.
func (l *Lexicon) ProviderForInstanceType(value string) (provider, canonical string, ok bool) {
	for _, name := range l.providerNames() {
		for _, t := range l.Providers[name].Snapshot.InstanceTypes {
			if strings.EqualFold(t, value) {
				return name, t, true
			}
		}
	}
	return "", "", false
}

// ProviderForRegion finds which provider offers a region identifier.
func (l *Lexicon) ProviderForRegion(region string) (string, bool) {
	for _, name := range l.providerNames() {
		for _, r := range l.Providers[name].Snapshot.Regions {
			if r == region {
				return name, true
			}
		}
	}
	return "", false
}

// SnapshotFact builds a last-known-good CapabilityFact for (provider, region,
// kind) out of the bundled snapshot. The returned fact is marked stale.
func (l *Lexicon) SnapshotFact(provider, region string, kind models.ResourceKind) (*models.CapabilityFact, error) {
	spec := l.Providers[provider]
	if spec == nil {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	allowed := make(map[string][]string)
	switch kind {
	case models.KindCompute:
		allowed["instance_type"] = append([]string(nil), spec.Snapshot.InstanceTypes...)
	case models.KindDatabase:
		allowed["engine"] = append([]string(nil), spec.Snapshot.Engines...)
		var versions []string
		for _, engine := range spec.Snapshot.Engines {
			versions = append(versions, spec.Snapshot.EngineVersions[engine]...)
		}
		sort.Strings(versions)
		allowed["engine_version"] = versions
	}
	allowed["region"] = append([]string(nil), spec.Snapshot.Regions...)

	return &models.CapabilityFact{
		Provider:  provider,
		Region:    region,
		Kind:      kind,
		Allowed:   allowed,
		Stale:     true,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// RulesFrom returns the relationship rules whose source is the given kind.
func (l *Lexicon) RulesFrom(kind models.ResourceKind) []RelationshipRule {
	var out []RelationshipRule
	for _, r := range l.Rules {
		if r.From == kind {
			out = append(out, r)
		}
	}
	return out
}

func (l *Lexicon) providerNames() []string {
	names := make([]string, 0, len(l.Providers))
	for n := range l.Providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
