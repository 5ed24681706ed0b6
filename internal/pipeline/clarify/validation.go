package clarify

import (
	"fmt"
	"net/netip"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"infra-wizard/internal/lexicon"
)

// ==========================
// 1. Answer Validation
// ==========================

// validateAnswer checks a raw slot answer against the attribute's declared
// type and range before it is merged into an intent. Invalid answers
// re-prompt the same slot rather than advancing the queue.
func validateAnswer(spec *lexicon.AttributeSpec, answer string) error {
	rules := []validation.Rule{validation.Required}

	if len(spec.Enum) > 0 {
		rules = append(rules, validation.In(toInterfaces(spec.Enum)...))
	}

	switch spec.Type {
	case lexicon.TypeInt:
		rules = append(rules, validation.By(intInRange(spec.Min, spec.Max)))
	case lexicon.TypeCIDR:
		rules = append(rules, validation.By(validCIDR))
	case lexicon.TypeBool:
		rules = append(rules, validation.In("true", "false", "yes", "no"))
	}

	return validation.Validate(answer, rules...)
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func intInRange(min, max *int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("must be a whole number")
		}
		if min != nil && n < *min {
			return fmt.Errorf("must be at least %d", *min)
		}
		if max != nil && n > *max {
			return fmt.Errorf("must be at most %d", *max)
		}
		return nil
	}
}

func validCIDR(value interface{}) error {
	s, _ := value.(string)
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return fmt.Errorf("must be a CIDR range like 10.0.0.0/16")
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("must be an IPv4 range")
	}
	return nil
}
