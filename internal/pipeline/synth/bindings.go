package synth

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/graph"
)

// ==========================
// 1. Template Binding Context
// ==========================

// NodeData is the execution context handed to a resource template. Attribute
// lookups fail hard (missing bindings poison the node), reference lookups
// degrade to the empty string so templates can guard optional edges with
// "with" blocks.
type NodeData struct {
	node        *models.ResourceNode
	prov        *lexicon.ProviderSpec
	lex         *lexicon.Lexicon
	graph       *graph.Graph
	region      string
	environment string
}

// Type returns the provider-specific Terraform resource type for the node.
func (d *NodeData) Type() (string, error) {
	t, ok := d.prov.ResourceTypes[d.node.Kind]
	if !ok {
		return "", fmt.Errorf("provider %s has no resource type for kind %s", d.prov.Name, d.node.Kind)
	}
	return t, nil
}

// Name returns the Terraform-safe resource name for the node.
func (d *NodeData) Name() string {
	return tfName(d.node.ID)
}

func (d *NodeData) Region() string      { return d.region }
func (d *NodeData) Environment() string { return d.environment }

// Attr returns the bound value of an attribute. A node that reaches the
// synthesizer with a required attribute still unbound is a pipeline defect,
// surfaced as TEMPLATE_BINDING_FAILED rather than silently rendered empty.
func (d *NodeData) Attr(name string) (string, error) {
	v, ok := d.node.Attributes[name]
	if !ok {
		return "", fmt.Errorf("no value bound for attribute %q", name)
	}
	return v, nil
}

// Var returns the module variable reference for an overridable attribute,
// e.g. var.compute_1_instance_type.
func (d *NodeData) Var(name string) string {
	return "var." + tfName(d.node.ID) + "_" + name
}

// Ref returns the module variable reference carrying a wired edge, e.g.
// var.subnet_1_network_id, or the empty string when the edge is absent or
// its target kind exposes no identifier to wire.
func (d *NodeData) Ref(name string) string {
	for _, ref := range d.node.Refs {
		if ref.Attribute != name {
			continue
		}
		target := d.graph.Node(ref.TargetID)
		if target == nil || !refBindable(d.lex, target.Kind) {
			return ""
		}
		return "var." + tfName(d.node.ID) + "_" + name + "_id"
	}
	return ""
}

// amiData is the context for the aws_ami data-source template.
type amiData struct {
	Name   string
	Owner  string
	Filter string
}

// ==========================
// 2. Naming & Lookup Helpers
// ==========================

// tfName converts a logical node id into a Terraform identifier.
func tfName(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}

// refBindable reports whether edges into the kind can be wired through
// Terraform: only kinds exposing an "id" output are addressable across
// modules. Edges into other kinds stay graph-only.
func refBindable(lex *lexicon.Lexicon, kind models.ResourceKind) bool {
	spec := lex.Kind(kind)
	if spec == nil {
		return false
	}
	attr := spec.Attribute("id")
	return attr != nil && attr.Exposed
}

// outputExpr returns the attribute expression appended to a resource address
// when emitting an output. Most exposed attributes map straight onto a
// Terraform attribute of the same name; the exceptions are per-provider.
func outputExpr(provider string, kind models.ResourceKind, attr string) string {
	switch {
	case provider == "azure" && kind == models.KindNetwork && attr == "id":
		// azurerm_subnet attaches by virtual network name, so the
		// network's cross-module handle is its name.
		return ".name"
	case provider == "azure" && kind == models.KindCompute && attr == "public_ip":
		return ".public_ip_address"
	case provider == "azure" && kind == models.KindDatabase && attr == "endpoint":
		return ".fqdn"
	case provider == "gcp" && kind == models.KindCompute && attr == "public_ip":
		return ".network_interface[0].access_config[0].nat_ip"
	case provider == "gcp" && kind == models.KindDatabase && attr == "endpoint":
		return ".connection_name"
	}
	return "." + attr
}

// templateFuncs are the helper functions available inside the .tf templates.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// mb converts a gigabyte figure into megabytes (azurerm storage_mb).
		"mb": func(gb string) (string, error) {
			n, err := strconv.Atoi(gb)
			if err != nil {
				return "", fmt.Errorf("mb: %q is not an integer", gb)
			}
			return strconv.Itoa(n * 1024), nil
		},
	}
}

// ==========================
// 3. HCL Fragment Rendering
// ==========================

// renderVariable emits one variable declaration. hasValue distinguishes a
// resolved default from a variable the operator must supply (passwords).
func renderVariable(w *strings.Builder, name string, spec *lexicon.AttributeSpec, value string, hasValue bool) {
	fmt.Fprintf(w, "variable %q {\n", name)
	if spec.Description != "" {
		fmt.Fprintf(w, "  description = %q\n", spec.Description)
	}
	fmt.Fprintf(w, "  type        = %s\n", hclType(spec.Type))
	if hasValue {
		fmt.Fprintf(w, "  default     = %s\n", hclLiteral(spec.Type, value))
	}
	if spec.Sensitive {
		fmt.Fprintf(w, "  sensitive   = true\n")
	}
	w.WriteString("}\n")
}

// renderRefVariable emits the declaration for a wired-edge input variable.
func renderRefVariable(w *strings.Builder, name string, targetID string) {
	fmt.Fprintf(w, "variable %q {\n", name)
	fmt.Fprintf(w, "  description = %q\n", "Identifier of "+targetID)
	fmt.Fprintf(w, "  type        = string\n")
	w.WriteString("}\n")
}

// renderOutput emits one output declaration for an exposed attribute.
func renderOutput(w *strings.Builder, name, value, description string, sensitive bool) {
	fmt.Fprintf(w, "output %q {\n", name)
	if description != "" {
		fmt.Fprintf(w, "  description = %q\n", description)
	}
	fmt.Fprintf(w, "  value       = %s\n", value)
	if sensitive {
		fmt.Fprintf(w, "  sensitive   = true\n")
	}
	w.WriteString("}\n")
}

func hclType(t lexicon.AttributeType) string {
	if t == lexicon.TypeInt {
		return "number"
	}
	return "string"
}

func hclLiteral(t lexicon.AttributeType, value string) string {
	if t == lexicon.TypeInt {
		return value
	}
	return strconv.Quote(value)
}
