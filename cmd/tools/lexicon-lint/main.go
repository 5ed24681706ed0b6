// cmd/tools/lexicon-lint/main.go
//
// lexicon-lint validates a resource catalogue document before it ships:
// schema conformance, relationship acyclicity and provider completeness.
package main

import (
	"flag"
	"fmt"
	"os"

	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
)

func main() {
	path := flag.String("path", "internal/lexicon/catalogue.yaml", "Path to the catalogue document")
	quiet := flag.Bool("quiet", false, "Suppress the summary, print errors only")
	flag.Parse()

	doc, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexicon-lint: %v\n", err)
		os.Exit(1)
	}

	lex, err := lexicon.Parse(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexicon-lint: %s: %v\n", *path, err)
		os.Exit(1)
	}

	if *quiet {
		return
	}

	fmt.Printf("%s: OK\n", *path)
	fmt.Printf("  kinds:         %d\n", len(lex.KindList))
	for _, kind := range models.AllKinds() {
		spec := lex.Kind(kind)
		if spec == nil {
			continue
		}
		fmt.Printf("    %-14s %d keywords, %d attributes\n",
			string(kind), len(spec.Keywords), len(spec.Attributes))
	}
	fmt.Printf("  relationships: %d\n", len(lex.Rules))
	fmt.Printf("  providers:     %d\n", len(lex.ProvList))
	for _, prov := range lex.ProvList {
		fmt.Printf("    %-6s %d regions, %d instance types\n",
			prov.Name, len(prov.Snapshot.Regions), len(prov.Snapshot.InstanceTypes))
	}
}
