// Package synth renders the resource graph into a Terraform project: one
// reusable module per resource kind plus an environment root that wires the
// modules together. Rendering is deterministic; the same graph always
// produces byte-identical artifacts.
package synth

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/pipeline/graph"
)

//go:embed templates
var templateFS embed.FS

// amiCatalog maps logical image names onto aws_ami data-source lookups.
var amiCatalog = map[string]amiData{
	"ubuntu":       {Name: "ubuntu", Owner: "099720109477", Filter: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"},
	"amazon_linux": {Name: "amazon_linux", Owner: "137112412989", Filter: "al2023-ami-*-x86_64"},
	"windows":      {Name: "windows", Owner: "801119661308", Filter: "Windows_Server-2022-English-Full-Base-*"},
}

// ==========================
// 1. Synthesizer
// ==========================

// Input carries everything synthesis needs: the finalized graph plus the
// session-level choices that parameterize the templates.
type Input struct {
	Provider    string
	Region      string
	Environment string
	Graph       *graph.Graph
}

// Output is the rendered project. A binding failure excludes the offending
// node and everything that depends on it, but never discards independent
// resources: Warnings and Excluded record what was dropped.
type Output struct {
	Artifacts []models.SynthesizedArtifact
	Warnings  []models.Warning
	Excluded  []string
}

// Synthesizer renders graphs against the embedded template catalogue.
type Synthesizer struct {
	lex  *lexicon.Lexicon
	tmpl map[string]*template.Template
	log  logger.Logger
}

// NewSynthesizer parses the embedded templates. Template names are keyed
// provider/kind (e.g. "aws/compute") so the per-provider files never collide.
func NewSynthesizer(lex *lexicon.Lexicon, log logger.Logger) (*Synthesizer, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	tmpl := make(map[string]*template.Template)
	err := fs.WalkDir(templateFS, "templates", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".tf.tmpl") {
			return err
		}
		raw, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(strings.TrimPrefix(p, "templates/"), ".tf.tmpl")
		t, err := template.New(key).Funcs(templateFuncs()).Parse(string(raw))
		if err != nil {
			return pipelineerrors.NewCatalogueInvalidError(p, err.Error())
		}
		tmpl[key] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Synthesizer{lex: lex, tmpl: tmpl, log: log}, nil
}

// ==========================
// 2. Synthesis
// ==========================

// Synthesize renders the graph into module and environment files. Nodes are
// visited in topological order so a failed binding poisons its dependents
// before they render.
func (s *Synthesizer) Synthesize(in Input) (*Output, error) {
	prov := s.lex.Provider(in.Provider)
	if prov == nil {
		return nil, fmt.Errorf("unknown provider %q", in.Provider)
	}
	env := in.Environment
	if env == "" {
		env = "dev"
	}

	out := &Output{}
	rendered := make(map[string]string)
	poisoned := make(map[string]bool)

	var live []*models.ResourceNode
	for _, node := range in.Graph.Ordered {
		if tainted(node, poisoned) {
			poisoned[node.ID] = true
			out.Excluded = append(out.Excluded, node.ID)
			s.log.Warn("excluding dependent of failed resource", map[string]interface{}{
				"resource": node.ID,
			})
			continue
		}
		body, err := s.renderNode(node, prov, in, env)
		if err != nil {
			stdErr := pipelineerrors.NewTemplateBindingFailedError(node.ID, err)
			out.Warnings = append(out.Warnings, models.Warning{
				Code:     string(pipelineerrors.ErrCodeTemplateBindingFailed),
				Message:  stdErr.Details,
				Resource: node.ID,
			})
			poisoned[node.ID] = true
			out.Excluded = append(out.Excluded, node.ID)
			s.log.WithError(err).Warn("template binding failed", map[string]interface{}{
				"resource": node.ID,
			})
			continue
		}
		rendered[node.ID] = body
		live = append(live, node)
	}
	if len(live) == 0 {
		return out, nil
	}

	byKind := make(map[models.ResourceKind][]*models.ResourceNode)
	for _, node := range live {
		byKind[node.Kind] = append(byKind[node.Kind], node)
	}

	for _, kind := range models.AllKinds() {
		nodes := byKind[kind]
		if len(nodes) == 0 {
			continue
		}
		dir := "modules/" + string(kind) + "/"
		main, err := s.moduleMain(kind, nodes, rendered, in.Provider)
		if err != nil {
			return nil, err
		}
		out.Artifacts = append(out.Artifacts,
			artifact(dir+"main.tf", main),
			artifact(dir+"variables.tf", s.moduleVariables(kind, nodes, in.Graph)),
			artifact(dir+"outputs.tf", s.moduleOutputs(kind, nodes, prov, in.Provider)),
		)
	}

	envMain, err := s.envMain(byKind, in)
	if err != nil {
		return nil, err
	}
	envDir := "environments/" + env + "/"
	out.Artifacts = append(out.Artifacts,
		artifact(envDir+"main.tf", envMain),
		artifact(envDir+"variables.tf", s.envVariables(byKind, in)),
		artifact(envDir+"outputs.tf", s.envOutputs(byKind)),
	)

	sort.Slice(out.Artifacts, func(i, j int) bool {
		return out.Artifacts[i].Path < out.Artifacts[j].Path
	})
	s.log.Info("synthesis complete", map[string]interface{}{
		"artifacts": len(out.Artifacts),
		"excluded":  len(out.Excluded),
	})
	return out, nil
}

// tainted reports whether any of the node's edges point at a poisoned node.
func tainted(node *models.ResourceNode, poisoned map[string]bool) bool {
	for _, ref := range node.Refs {
		if poisoned[ref.TargetID] {
			return true
		}
	}
	return false
}

func (s *Synthesizer) renderNode(node *models.ResourceNode, prov *lexicon.ProviderSpec, in Input, env string) (string, error) {
	key := in.Provider + "/" + string(node.Kind)
	t := s.tmpl[key]
	if t == nil {
		return "", fmt.Errorf("no template %q", key)
	}
	data := &NodeData{
		node:        node,
		prov:        prov,
		lex:         s.lex,
		graph:       in.Graph,
		region:      in.Region,
		environment: env,
	}
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n") + "\n", nil
}

// ==========================
// 3. Module Files
// ==========================

func (s *Synthesizer) moduleMain(kind models.ResourceKind, nodes []*models.ResourceNode, rendered map[string]string, provider string) (string, error) {
	var w strings.Builder

	if provider == "aws" && kind == models.KindCompute {
		for _, image := range distinctImages(nodes) {
			ami, ok := amiCatalog[image]
			if !ok {
				return "", fmt.Errorf("no AMI lookup for image %q", image)
			}
			t := s.tmpl["aws/ami"]
			if t == nil {
				return "", fmt.Errorf("no template %q", "aws/ami")
			}
			if err := t.Execute(&w, ami); err != nil {
				return "", err
			}
			w.WriteString("\n")
		}
	}

	for i, node := range nodes {
		if i > 0 || w.Len() > 0 {
			w.WriteString("\n")
		}
		w.WriteString(rendered[node.ID])
	}
	return w.String(), nil
}

func (s *Synthesizer) moduleVariables(kind models.ResourceKind, nodes []*models.ResourceNode, g *graph.Graph) string {
	spec := s.lex.Kind(kind)
	var w strings.Builder
	for _, node := range nodes {
		for i := range spec.Attributes {
			attr := &spec.Attributes[i]
			if !attr.Overridable {
				continue
			}
			value, hasValue := node.Attributes[attr.Name]
			if !hasValue && attr.Default != "" {
				value, hasValue = attr.Default, true
			}
			if w.Len() > 0 {
				w.WriteString("\n")
			}
			renderVariable(&w, tfName(node.ID)+"_"+attr.Name, attr, value, hasValue)
		}
		for _, ref := range node.Refs {
			target := g.Node(ref.TargetID)
			if target == nil || !refBindable(s.lex, target.Kind) {
				continue
			}
			if w.Len() > 0 {
				w.WriteString("\n")
			}
			renderRefVariable(&w, tfName(node.ID)+"_"+ref.Attribute+"_id", ref.TargetID)
		}
	}
	return w.String()
}

func (s *Synthesizer) moduleOutputs(kind models.ResourceKind, nodes []*models.ResourceNode, prov *lexicon.ProviderSpec, provider string) string {
	spec := s.lex.Kind(kind)
	resourceType := prov.ResourceTypes[kind]
	var w strings.Builder
	for _, node := range nodes {
		for i := range spec.Attributes {
			attr := &spec.Attributes[i]
			if !attr.Exposed {
				continue
			}
			if w.Len() > 0 {
				w.WriteString("\n")
			}
			address := resourceType + "." + tfName(node.ID) + outputExpr(provider, kind, attr.Name)
			renderOutput(&w, tfName(node.ID)+"_"+attr.Name, address, attr.Description, attr.Sensitive)
		}
	}
	return w.String()
}

// ==========================
// 4. Environment Files
// ==========================

func (s *Synthesizer) envMain(byKind map[models.ResourceKind][]*models.ResourceNode, in Input) (string, error) {
	header := s.tmpl[in.Provider+"/header"]
	if header == nil {
		return "", fmt.Errorf("no template %q", in.Provider+"/header")
	}
	var w strings.Builder
	if err := header.Execute(&w, nil); err != nil {
		return "", err
	}

	for _, kind := range models.AllKinds() {
		nodes := byKind[kind]
		if len(nodes) == 0 {
			continue
		}
		w.WriteString("\n")
		fmt.Fprintf(&w, "module %q {\n", string(kind))
		fmt.Fprintf(&w, "  source = %q\n", "../../modules/"+string(kind))
		for _, node := range nodes {
			for _, line := range s.moduleInputs(node, byKind, in.Graph) {
				w.WriteString("\n  " + line)
			}
		}
		w.WriteString("\n}\n")
	}
	return w.String(), nil
}

// moduleInputs lists the assignments a module block needs for one node:
// wired edges resolved against the producing module's outputs, plus
// pass-through of operator-supplied secrets.
func (s *Synthesizer) moduleInputs(node *models.ResourceNode, byKind map[models.ResourceKind][]*models.ResourceNode, g *graph.Graph) []string {
	var lines []string
	for _, ref := range node.Refs {
		target := g.Node(ref.TargetID)
		if target == nil || !refBindable(s.lex, target.Kind) {
			continue
		}
		if len(byKind[target.Kind]) == 0 {
			continue
		}
		name := tfName(node.ID) + "_" + ref.Attribute + "_id"
		value := "module." + string(target.Kind) + "." + tfName(ref.TargetID) + "_id"
		lines = append(lines, name+" = "+value)
	}
	spec := s.lex.Kind(node.Kind)
	for i := range spec.Attributes {
		attr := &spec.Attributes[i]
		if !attr.Overridable || !attr.Sensitive {
			continue
		}
		if _, ok := node.Attributes[attr.Name]; ok || attr.Default != "" {
			continue
		}
		name := tfName(node.ID) + "_" + attr.Name
		lines = append(lines, name+" = var."+name)
	}
	return lines
}

func (s *Synthesizer) envVariables(byKind map[models.ResourceKind][]*models.ResourceNode, in Input) string {
	var w strings.Builder

	if region := s.lex.SessionAttribute("region"); region != nil {
		renderVariable(&w, "region", region, in.Region, true)
	}
	if in.Provider == "gcp" {
		w.WriteString("\nvariable \"project_id\" {\n")
		w.WriteString("  description = \"GCP project identifier\"\n")
		w.WriteString("  type        = string\n")
		w.WriteString("}\n")
	}

	for _, kind := range models.AllKinds() {
		spec := s.lex.Kind(kind)
		if spec == nil {
			continue
		}
		for _, node := range byKind[kind] {
			for i := range spec.Attributes {
				attr := &spec.Attributes[i]
				if !attr.Overridable || !attr.Sensitive {
					continue
				}
				if _, ok := node.Attributes[attr.Name]; ok || attr.Default != "" {
					continue
				}
				if w.Len() > 0 {
					w.WriteString("\n")
				}
				renderVariable(&w, tfName(node.ID)+"_"+attr.Name, attr, "", false)
			}
		}
	}
	return w.String()
}

func (s *Synthesizer) envOutputs(byKind map[models.ResourceKind][]*models.ResourceNode) string {
	var w strings.Builder
	for _, kind := range models.AllKinds() {
		spec := s.lex.Kind(kind)
		if spec == nil {
			continue
		}
		for _, node := range byKind[kind] {
			for i := range spec.Attributes {
				attr := &spec.Attributes[i]
				if !attr.Exposed {
					continue
				}
				if w.Len() > 0 {
					w.WriteString("\n")
				}
				name := tfName(node.ID) + "_" + attr.Name
				renderOutput(&w, name, "module."+string(kind)+"."+name, attr.Description, attr.Sensitive)
			}
		}
	}
	return w.String()
}

// ==========================
// 5. Helpers
// ==========================

func artifact(path, content string) models.SynthesizedArtifact {
	sum := sha256.Sum256([]byte(content))
	return models.SynthesizedArtifact{
		Path:    path,
		Content: []byte(content),
		SHA256:  hex.EncodeToString(sum[:]),
	}
}

// distinctImages returns the sorted set of image attributes across nodes.
func distinctImages(nodes []*models.ResourceNode) []string {
	seen := make(map[string]bool)
	var images []string
	for _, node := range nodes {
		image, ok := node.Attributes["image"]
		if !ok || seen[image] {
			continue
		}
		seen[image] = true
		images = append(images, image)
	}
	sort.Strings(images)
	return images
}
