package graph

import (
	"fmt"
	"sort"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/intent"
)

// ==========================
// 1. Graph & Builder
// ==========================

// Graph is the finalized resource DAG. Ordered holds the topologically
// sorted node sequence with dependencies ahead of their dependents.
type Graph struct {
	Nodes   map[string]*models.ResourceNode
	Ordered []*models.ResourceNode
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *models.ResourceNode {
	return g.Nodes[id]
}

// Counts tallies nodes by kind for the session summary.
func (g *Graph) Counts() map[models.ResourceKind]int {
	counts := make(map[models.ResourceKind]int)
	for _, n := range g.Nodes {
		counts[n.Kind]++
	}
	return counts
}

// Builder assembles validated intents into the resource graph. It is the
// single writer of the node set: once ordering starts, no node is mutated.
type Builder struct {
	lex *lexicon.Lexicon
	log logger.Logger
}

func NewBuilder(lex *lexicon.Lexicon, log logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Builder{lex: lex, log: log}
}

// ==========================
// 2. Construction
// ==========================

// Build assigns each intent a stable node id (its logical name), constructs
// reference edges per the lexicon relationship rules, auto-creates missing
// required parents that have documented defaults, and returns the graph in
// deterministic topological order.
//
// A required parent that cannot be auto-created fails with
// DANGLING_REFERENCE. A cycle fails with CYCLE_DETECTED; the catalogue's
// rules are checked to be acyclic at load time, so reaching that error
// means an ontology defect, not user error.
func (b *Builder) Build(res *intent.Result) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*models.ResourceNode)}

	declared := 0
	for _, it := range res.Intents {
		if g.Nodes[it.Name] != nil {
			return nil, fmt.Errorf("duplicate node id %q", it.Name)
		}
		attrs := make(map[string]string, len(it.Attributes))
		for k, v := range it.Attributes {
			attrs[k] = v
		}
		g.Nodes[it.Name] = &models.ResourceNode{
			ID:         it.Name,
			Kind:       it.Kind,
			Attributes: attrs,
			Declared:   declared,
		}
		declared++
	}

	// Edge construction walks nodes in declaration order so auto-created
	// parents always get the same ids and attributes for identical input.
	for _, node := range b.byDeclaration(g) {
		if err := b.connect(g, res, node, &declared); err != nil {
			return nil, err
		}
	}

	ordered, err := b.topoSort(g)
	if err != nil {
		return nil, err
	}
	g.Ordered = ordered

	b.log.Debug("Built resource graph", map[string]interface{}{
		"nodes": len(g.Nodes),
	})
	return g, nil
}

// connect applies every relationship rule whose source kind matches node.
func (b *Builder) connect(g *Graph, res *intent.Result, node *models.ResourceNode, declared *int) error {
	for _, rule := range b.lex.RulesFrom(node.Kind) {
		target := b.firstOfKind(g, rule.To)

		switch {
		case target == nil && rule.Required && rule.AutoCreate:
			created, err := b.autoCreate(g, res, rule.To, declared)
			if err != nil {
				return err
			}
			target = created
		case target == nil && rule.Optional:
			continue // nothing to attach
		case target == nil:
			return pipelineerrors.NewDanglingReferenceError(node.ID, rule.Attribute, string(rule.To))
		}

		node.Refs = append(node.Refs, models.Reference{
			Attribute: rule.Attribute,
			TargetID:  target.ID,
		})

		// An implied kind materializes alongside the edge unless the
		// user explicitly declined it.
		if rule.Implies != "" && !res.Negated[rule.Implies] {
			implied := b.firstOfKind(g, rule.Implies)
			if implied == nil {
				var err error
				implied, err = b.autoCreate(g, res, rule.Implies, declared)
				if err != nil {
					return err
				}
			}
			if !hasRef(node, implied.ID) {
				node.Refs = append(node.Refs, models.Reference{
					Attribute: string(rule.Implies),
					TargetID:  implied.ID,
				})
			}
		}
	}
	return nil
}

// autoCreate materializes a missing required parent from lexicon defaults
// and recursively connects it (a created subnet still needs its network).
func (b *Builder) autoCreate(g *Graph, res *intent.Result, kind models.ResourceKind, declared *int) (*models.ResourceNode, error) {
	kindSpec := b.lex.Kind(kind)
	if kindSpec == nil {
		return nil, pipelineerrors.NewDanglingReferenceError("", "", string(kind))
	}

	id := string(kind)
	if kindSpec.MultiInstance {
		id = fmt.Sprintf("%s-1", kind)
	}
	if g.Nodes[id] != nil {
		return nil, fmt.Errorf("auto-created node id %q already exists", id)
	}

	attrs := make(map[string]string)
	for i := range kindSpec.Attributes {
		spec := &kindSpec.Attributes[i]
		if spec.Default != "" {
			attrs[spec.Name] = spec.Default
		}
	}
	if kind == models.KindSubnet {
		cidr, err := b.derivedSubnetCIDR(g, res)
		if err != nil {
			return nil, err
		}
		attrs["cidr_block"] = cidr
	}

	node := &models.ResourceNode{
		ID:         id,
		Kind:       kind,
		Attributes: attrs,
		Declared:   *declared,
	}
	*declared++
	g.Nodes[id] = node

	b.log.Debug("Auto-created missing parent node", map[string]interface{}{
		"id":   id,
		"kind": string(kind),
	})
	return node, b.connect(g, res, node, declared)
}

// derivedSubnetCIDR gives an auto-created subnet the first half of the
// parent network range.
func (b *Builder) derivedSubnetCIDR(g *Graph, res *intent.Result) (string, error) {
	parent := "10.0.0.0/16"
	if network := b.firstOfKind(g, models.KindNetwork); network != nil && network.Attributes["cidr_block"] != "" {
		parent = network.Attributes["cidr_block"]
	} else if prov := b.lex.Provider(res.Session["provider"]); prov != nil && prov.DefaultCIDR != "" {
		parent = prov.DefaultCIDR
	}
	halves, err := intent.DeriveSubnetCIDRs(parent, 2)
	if err != nil {
		return "", err
	}
	return halves[0], nil
}

// ==========================
// 3. Topological Order
// ==========================

// topoSort emits dependencies before dependents. Ready nodes are chosen by
// (kind priority, declaration order) so independent nodes always come out
// in the same sequence.
func (b *Builder) topoSort(g *Graph) ([]*models.ResourceNode, error) {
	pendingRefs := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string, len(g.Nodes))
	for _, node := range g.Nodes {
		pendingRefs[node.ID] = len(node.Refs)
		for _, ref := range node.Refs {
			if g.Nodes[ref.TargetID] == nil {
				return nil, pipelineerrors.NewDanglingReferenceError(node.ID, ref.Attribute, ref.TargetID)
			}
			dependents[ref.TargetID] = append(dependents[ref.TargetID], node.ID)
		}
	}

	var ready []*models.ResourceNode
	for _, node := range g.Nodes {
		if pendingRefs[node.ID] == 0 {
			ready = append(ready, node)
		}
	}

	ordered := make([]*models.ResourceNode, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Kind.Priority() != ready[j].Kind.Priority() {
				return ready[i].Kind.Priority() < ready[j].Kind.Priority()
			}
			return ready[i].Declared < ready[j].Declared
		})
		node := ready[0]
		ready = ready[1:]
		ordered = append(ordered, node)

		for _, depID := range dependents[node.ID] {
			pendingRefs[depID]--
			if pendingRefs[depID] == 0 {
				ready = append(ready, g.Nodes[depID])
			}
		}
	}

	if len(ordered) != len(g.Nodes) {
		for _, node := range b.byDeclaration(g) {
			if pendingRefs[node.ID] > 0 {
				return nil, pipelineerrors.NewCycleDetectedError(node.ID)
			}
		}
		return nil, pipelineerrors.NewCycleDetectedError("unknown")
	}
	return ordered, nil
}

// ==========================
// 4. Helpers
// ==========================

func (b *Builder) byDeclaration(g *Graph) []*models.ResourceNode {
	nodes := make([]*models.ResourceNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Declared < nodes[j].Declared })
	return nodes
}

// firstOfKind returns the earliest-declared node of a kind, which keeps
// edge targets deterministic when several candidates exist.
func (b *Builder) firstOfKind(g *Graph, kind models.ResourceKind) *models.ResourceNode {
	var found *models.ResourceNode
	for _, n := range g.Nodes {
		if n.Kind != kind {
			continue
		}
		if found == nil || n.Declared < found.Declared {
			found = n
		}
	}
	return found
}

func hasRef(node *models.ResourceNode, targetID string) bool {
	for _, ref := range node.Refs {
		if ref.TargetID == targetID {
			return true
		}
	}
	return false
}
