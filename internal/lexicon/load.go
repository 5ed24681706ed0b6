package lexicon

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/models"
)

//go:embed catalogue.yaml
var catalogueYAML []byte

//go:embed catalogue_schema.json
var catalogueSchema []byte

var (
	defaultOnce    sync.Once
	defaultLexicon *Lexicon
	defaultErr     error
)

// Default returns the process-wide lexicon, loading it on first use.
func Default() (*Lexicon, error) {
	defaultOnce.Do(func() {
		defaultLexicon, defaultErr = Parse(catalogueYAML)
	})
	return defaultLexicon, defaultErr
}

// Parse validates a catalogue document against the embedded schema and
// decodes it into an immutable Lexicon.
func Parse(doc []byte) (*Lexicon, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	var lex Lexicon
	if err := yaml.Unmarshal(doc, &lex); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}

	lex.Kinds = make(map[models.ResourceKind]*KindSpec, len(lex.KindList))
	for i := range lex.KindList {
		spec := &lex.KindList[i]
		lex.Kinds[spec.Kind] = spec
	}

	lex.Providers = make(map[string]*ProviderSpec, len(lex.ProvList))
	for i := range lex.ProvList {
		spec := &lex.ProvList[i]
		lex.Providers[spec.Name] = spec
	}

	if err := lex.checkInvariants(); err != nil {
		return nil, err
	}

	return &lex, nil
}

// ValidateDocument checks a raw catalogue document against the JSON schema
// without building a Lexicon. lexicon-lint uses this directly.
func ValidateDocument(doc []byte) error {
	var generic interface{}
	if err := yaml.Unmarshal(doc, &generic); err != nil {
		return pipelineerrors.NewCatalogueInvalidError("catalogue", fmt.Sprintf("not valid YAML: %v", err))
	}

	schemaLoader := gojsonschema.NewBytesLoader(catalogueSchema)
	documentLoader := gojsonschema.NewGoLoader(generic)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return pipelineerrors.NewCatalogueInvalidError("catalogue", strings.Join(msgs, "; "))
	}
	return nil
}

// checkInvariants enforces the structural rules the schema cannot express:
// relationship rules must reference declared kinds and must form a DAG.
func (l *Lexicon) checkInvariants() error {
	for _, r := range l.Rules {
		if r.From == r.To {
			return pipelineerrors.NewCatalogueInvalidError("relationships",
				fmt.Sprintf("rule %s.%s relates a kind to itself", r.From, r.Attribute))
		}
		if l.Kinds[r.From] == nil || l.Kinds[r.To] == nil {
			return pipelineerrors.NewCatalogueInvalidError("relationships",
				fmt.Sprintf("rule %s.%s -> %s references an undeclared kind", r.From, r.Attribute, r.To))
		}
		if r.Implies != "" && l.Kinds[r.Implies] == nil {
			return pipelineerrors.NewCatalogueInvalidError("relationships",
				fmt.Sprintf("rule %s.%s implies undeclared kind %s", r.From, r.Attribute, r.Implies))
		}
		if r.Required == r.Optional {
			return pipelineerrors.NewCatalogueInvalidError("relationships",
				fmt.Sprintf("rule %s.%s must be exactly one of required or optional", r.From, r.Attribute))
		}
	}

	// Rules must be acyclic at the kind level; a cycle here would make
	// CycleDetected reachable at graph build, which is an ontology defect.
	adj := make(map[models.ResourceKind][]models.ResourceKind)
	for _, r := range l.Rules {
		adj[r.From] = append(adj[r.From], r.To)
	}
	state := make(map[models.ResourceKind]int) // 0 unseen, 1 visiting, 2 done
	var visit func(k models.ResourceKind) error
	visit = func(k models.ResourceKind) error {
		switch state[k] {
		case 1:
			return pipelineerrors.NewCatalogueInvalidError("relationships",
				fmt.Sprintf("relationship cycle through kind %s", k))
		case 2:
			return nil
		}
		state[k] = 1
		for _, next := range adj[k] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[k] = 2
		return nil
	}
	for _, kind := range models.AllKinds() {
		if err := visit(kind); err != nil {
			return err
		}
	}

	for _, p := range l.ProvList {
		for _, kind := range models.AllKinds() {
			if _, ok := p.ResourceTypes[kind]; !ok {
				return pipelineerrors.NewCatalogueInvalidError("providers",
					fmt.Sprintf("provider %s has no resource type for kind %s", p.Name, kind))
			}
		}
	}

	return nil
}
