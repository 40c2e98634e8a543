package schema

// ValidatorPhase tells when a validator runs relative to type coercion.
type ValidatorPhase int

const (
	// PhaseBefore runs on the raw attribute map, before type coercion.
	PhaseBefore ValidatorPhase = iota
	// PhaseAfter runs on the coerced attribute map.
	PhaseAfter
)

// String returns the string representation of the phase.
func (p ValidatorPhase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseAfter:
		return "after"
	default:
		return "unknown"
	}
}

// ValidatorFunc validates and may rewrite an attribute map. It must treat
// its input as owned: the caller passes a copy.
type ValidatorFunc func(attrs map[string]interface{}) (map[string]interface{}, error)

// Validator is one declared validation function.
type Validator struct {
	Name  string
	Phase ValidatorPhase
	Fn    ValidatorFunc
}

// Before declares a pre-coercion validator.
func Before(name string, fn ValidatorFunc) Validator {
	return Validator{Name: name, Phase: PhaseBefore, Fn: fn}
}

// After declares a post-coercion validator.
func After(name string, fn ValidatorFunc) Validator {
	return Validator{Name: name, Phase: PhaseAfter, Fn: fn}
}

// collectValidators walks the Extends chain and returns the declared
// validators partitioned by phase. A parent's validators run before the
// child's own within each phase, in declaration order.
func collectValidators(decl *Declaration) (before, after []Validator) {
	if decl == nil {
		return nil, nil
	}

	parentBefore, parentAfter := collectValidators(decl.Extends)
	before = append(before, parentBefore...)
	after = append(after, parentAfter...)

	for _, v := range decl.Validators {
		switch v.Phase {
		case PhaseBefore:
			before = append(before, v)
		case PhaseAfter:
			after = append(after, v)
		}
	}
	return before, after
}

// runValidators applies validators in order, threading the attribute map
// through each.
func runValidators(validators []Validator, attrs map[string]interface{}) (map[string]interface{}, error) {
	for _, v := range validators {
		next, err := v.Fn(attrs)
		if err != nil {
			return nil, err
		}
		if next != nil {
			attrs = next
		}
	}
	return attrs, nil
}
