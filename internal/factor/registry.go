package factor

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Registry holds the factor definitions and named constants of one domain.
// It is built once at configuration time and sealed before scoring; a sealed
// registry is read-only and safe to share across goroutines.
type Registry struct {
	defs      []Definition
	index     map[string]int
	constants map[string]float64
	sealed    bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		index:     make(map[string]int),
		constants: make(map[string]float64),
	}
}

// SetConstant declares a named constant, typically a proxy-signal threshold
// such as the minimum abandoned fills that flag a cost barrier.
func (r *Registry) SetConstant(name string, value float64) error {
	if r.sealed {
		return ErrRegistrySealed
	}
	if name == "" {
		return fmt.Errorf("constant name is required")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("constant %q: value must be finite, got %g", name, value)
	}
	r.constants[name] = value
	return nil
}

// Register adds a factor definition.
func (r *Registry) Register(def Definition) error {
	if r.sealed {
		return ErrRegistrySealed
	}
	if def.Name == "" {
		return fmt.Errorf("factor name is required")
	}
	if _, dup := r.index[def.Name]; dup {
		return &DuplicateFactorError{Name: def.Name}
	}
	if def.Weight < 0 || math.IsNaN(def.Weight) || math.IsInf(def.Weight, 0) {
		return &InvalidWeightError{Name: def.Name, Weight: def.Weight}
	}
	if def.Kind == "" {
		def.Kind = KindWeighted
	}
	if def.Kind != KindWeighted && def.Kind != KindIndicator {
		return fmt.Errorf("factor %q: unknown kind %q", def.Name, def.Kind)
	}
	if def.Direction == "" {
		def.Direction = Toward
	}
	if def.Direction != Toward && def.Direction != Away {
		return fmt.Errorf("factor %q: unknown direction %q", def.Name, def.Direction)
	}
	if math.IsNaN(def.Range.Min) || math.IsNaN(def.Range.Max) || def.Range.Min > def.Range.Max {
		return fmt.Errorf("factor %q: invalid range %s", def.Name, def.Range)
	}
	if def.Default != nil && !def.Range.Contains(*def.Default) && !def.Clamp {
		return fmt.Errorf("factor %q: default %g outside range %s", def.Name, *def.Default, def.Range)
	}
	if def.Extract.Kind == "" {
		def.Extract.Kind = ExtractDirect
	}
	if err := checkExtraction(def.Name, &def.Extract); err != nil {
		return err
	}

	r.index[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	return nil
}

func checkExtraction(factorName string, e *Extraction) error {
	switch e.Kind {
	case ExtractDirect, ExtractCountDistinct, ExtractAtLeast, ExtractAtMost:
		if e.Attribute == "" {
			e.Attribute = factorName
		}
	case ExtractContains:
		if e.Attribute == "" {
			e.Attribute = factorName
		}
		if e.Category == "" {
			return fmt.Errorf("factor %q: contains rule needs a category", factorName)
		}
	case ExtractAny, ExtractSum:
		if len(e.Signals) == 0 {
			return fmt.Errorf("factor %q: %s rule needs at least one signal", factorName, e.Kind)
		}
		for i := range e.Signals {
			// A sum may add up any-of groups; deeper nesting is rejected.
			k := e.Signals[i].Kind
			if k == ExtractSum || (k == ExtractAny && e.Kind == ExtractAny) {
				return fmt.Errorf("factor %q: nested %s rules are not supported", factorName, k)
			}
			if err := checkExtraction(factorName, &e.Signals[i]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("factor %q: unknown extraction kind %q", factorName, e.Kind)
	}
	return nil
}

// Seal validates cross-references and freezes the registry.
func (r *Registry) Seal() error {
	if r.sealed {
		return nil
	}
	if len(r.defs) == 0 {
		return fmt.Errorf("registry has no factors")
	}

	var errs []string
	for _, d := range r.defs {
		for _, ref := range thresholdRefs(d.Extract) {
			if _, ok := r.constants[ref]; !ok {
				errs = append(errs, fmt.Sprintf("factor %q references undeclared constant %q", d.Name, ref))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	r.sealed = true
	return nil
}

func thresholdRefs(e Extraction) []string {
	var refs []string
	if e.ThresholdRef != "" {
		refs = append(refs, e.ThresholdRef)
	}
	for _, s := range e.Signals {
		refs = append(refs, thresholdRefs(s)...)
	}
	return refs
}

// Sealed reports whether the registry is frozen.
func (r *Registry) Sealed() bool { return r.sealed }

// Definitions returns factor definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns factor names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Name
	}
	return out
}

// Lookup returns the definition of a factor.
func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Constant returns the value of a named constant.
func (r *Registry) Constant(name string) (float64, bool) {
	v, ok := r.constants[name]
	return v, ok
}

// ConstantNames returns declared constant names, sorted.
func (r *Registry) ConstantNames() []string {
	names := make([]string, 0, len(r.constants))
	for n := range r.constants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WithConstants returns a sealed copy of r with the given constants
// overridden. r itself is left untouched. Overriding an undeclared constant
// is an error so a typo cannot silently leave a threshold at its default.
func (r *Registry) WithConstants(overrides map[string]float64) (*Registry, error) {
	cp := NewRegistry()
	for k, v := range r.constants {
		cp.constants[k] = v
	}
	for k, v := range overrides {
		if _, ok := r.constants[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownConstant, k)
		}
		if err := cp.SetConstant(k, v); err != nil {
			return nil, err
		}
	}
	for _, d := range r.defs {
		if err := cp.Register(d); err != nil {
			return nil, err
		}
	}
	if err := cp.Seal(); err != nil {
		return nil, err
	}
	return cp, nil
}
