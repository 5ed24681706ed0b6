package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Action is the verb class detected in an utterance. Only create sessions
// proceed to synthesis; the other classes fail fast at the session layer.
type Action string

const (
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
	ActionModify Action = "modify"
	ActionQuery  Action = "query"
)

// ==========================
// 1. Vocabulary Tables
// ==========================

var actionVerbs = []struct {
	action Action
	verbs  []string
}{
	{ActionDelete, []string{"delete", "remove", "destroy", "terminate", "teardown"}},
	{ActionModify, []string{"modify", "update", "change", "edit", "reconfigure"}},
	{ActionQuery, []string{"show", "list", "describe", "what", "which"}},
	{ActionCreate, []string{"create", "deploy", "launch", "provision", "setup", "add", "build"}},
}

var negationWords = map[string]bool{
	"no": true, "not": true, "without": true, "don't": true, "dont": true,
	"never": true, "exclude": true, "except": true, "excluding": true,
}

var quantityWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// negationWindow is how many words back a negation marker still covers a
// keyword ("I don't want any monitoring").
const negationWindow = 5

// Tokens keep characters that appear inside instance types, regions and
// CIDR blocks (t2.micro, us-east-1, Standard_B2s, 10.0.0.0/16).
var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9._/'-]*`)

// ==========================
// 2. Token Helpers
// ==========================

func tokenize(utterance string) []string {
	return tokenPattern.FindAllString(strings.ToLower(utterance), -1)
}

func detectAction(words []string) Action {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	for _, entry := range actionVerbs {
		for _, verb := range entry.verbs {
			if set[verb] {
				return entry.action
			}
		}
	}
	return ActionCreate
}

// negatedAt reports whether the word at index i sits inside a negated span.
func negatedAt(words []string, i int) bool {
	start := i - negationWindow
	if start < 0 {
		start = 0
	}
	for j := start; j < i; j++ {
		if negationWords[words[j]] {
			return true
		}
	}
	return false
}

// quantityBefore parses a count from the word immediately preceding index i.
func quantityBefore(words []string, i int) int {
	if i == 0 {
		return 1
	}
	prev := words[i-1]
	if n, ok := quantityWords[prev]; ok {
		return n
	}
	if n, err := strconv.Atoi(prev); err == nil && n > 0 {
		return n
	}
	return 1
}
