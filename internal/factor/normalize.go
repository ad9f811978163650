package factor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ListSeparator splits list attributes delivered as a single string
// (e.g. a CSV cell holding "HOUSING;FOOD").
const ListSeparator = ";"

// Normalize maps a raw record onto the registry's factors. Every registered
// factor gets exactly one value inside its valid range, or an error is
// returned naming the factor and attribute at fault. The record is not
// modified and the same record always yields the same vector.
func (r *Registry) Normalize(rec Record) (Vector, error) {
	vec := Vector{
		RecordID: rec.ID,
		Values:   make(map[string]float64, len(r.defs)),
	}

	for _, d := range r.defs {
		v, missingAttr, err := r.extract(rec, d, d.Extract)
		if err != nil {
			return Vector{}, err
		}
		if missingAttr != "" {
			if d.Default == nil {
				return Vector{}, &MissingAttributeError{RecordID: rec.ID, Factor: d.Name, Attribute: missingAttr}
			}
			v = *d.Default
		}

		if math.IsNaN(v) || !d.Range.Contains(v) {
			if !d.Clamp || math.IsNaN(v) {
				return Vector{}, &OutOfRangeError{RecordID: rec.ID, Factor: d.Name, Value: v, Range: d.Range}
			}
			v = d.Range.Clamp(v)
		}
		vec.Values[d.Name] = v
	}
	return vec, nil
}

// extract evaluates one extraction rule. A non-empty missingAttr reports the
// first absent attribute that prevented a decision.
func (r *Registry) extract(rec Record, d Definition, e Extraction) (value float64, missingAttr string, err error) {
	raw, present := lookupAttr(rec.Attributes, e.Attribute)

	switch e.Kind {
	case ExtractDirect:
		if !present || isBlank(raw) {
			return 0, e.Attribute, nil
		}
		v, err := toFloat(raw)
		if err != nil {
			return 0, "", &InvalidAttributeError{RecordID: rec.ID, Factor: d.Name, Attribute: e.Attribute, Value: raw, Err: err}
		}
		return v, "", nil

	case ExtractAtLeast, ExtractAtMost:
		if !present || isBlank(raw) {
			return 0, e.Attribute, nil
		}
		v, err := toFloat(raw)
		if err != nil {
			return 0, "", &InvalidAttributeError{RecordID: rec.ID, Factor: d.Name, Attribute: e.Attribute, Value: raw, Err: err}
		}
		threshold := r.threshold(e)
		hit := v >= threshold
		if e.Kind == ExtractAtMost {
			hit = v <= threshold
		}
		return boolValue(hit), "", nil

	case ExtractCountDistinct:
		if !present {
			return 0, e.Attribute, nil
		}
		items, err := toList(raw)
		if err != nil {
			return 0, "", &InvalidAttributeError{RecordID: rec.ID, Factor: d.Name, Attribute: e.Attribute, Value: raw, Err: err}
		}
		return float64(countDistinct(items, e.Categories)), "", nil

	case ExtractContains:
		if !present {
			return 0, e.Attribute, nil
		}
		items, err := toList(raw)
		if err != nil {
			return 0, "", &InvalidAttributeError{RecordID: rec.ID, Factor: d.Name, Attribute: e.Attribute, Value: raw, Err: err}
		}
		for _, it := range items {
			if strings.EqualFold(it, e.Category) {
				return 1, "", nil
			}
		}
		return 0, "", nil

	case ExtractAny:
		// A true signal decides the outcome even if another signal's
		// attribute is absent; otherwise the absence is reported.
		var firstMissing string
		for _, s := range e.Signals {
			v, missing, err := r.extract(rec, d, s)
			if err != nil {
				return 0, "", err
			}
			if missing != "" {
				if firstMissing == "" {
					firstMissing = missing
				}
				continue
			}
			if v != 0 {
				return 1, "", nil
			}
		}
		if firstMissing != "" {
			return 0, firstMissing, nil
		}
		return 0, "", nil

	case ExtractSum:
		total := e.Offset
		for _, s := range e.Signals {
			v, missing, err := r.extract(rec, d, s)
			if err != nil || missing != "" {
				return 0, missing, err
			}
			c := s.Coefficient
			if c == 0 {
				c = 1
			}
			total += c * v
		}
		return total, "", nil
	}

	return 0, "", fmt.Errorf("factor %q: unknown extraction kind %q", d.Name, e.Kind)
}

func (r *Registry) threshold(e Extraction) float64 {
	if e.ThresholdRef != "" {
		// Seal guarantees the reference exists.
		return r.constants[e.ThresholdRef]
	}
	return e.Threshold
}

func lookupAttr(attrs map[string]any, name string) (any, bool) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		return boolValue(x), nil
	case json.Number:
		return x.Float64()
	case string:
		s := strings.TrimSpace(x)
		switch strings.ToLower(s) {
		case "true", "yes", "y":
			return 1, nil
		case "false", "no", "n":
			return 0, nil
		}
		s = strings.TrimSuffix(s, "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		if strings.HasSuffix(strings.TrimSpace(x), "%") {
			f /= 100
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toList(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return trimAll(x), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("list element %v is %T, want string", it, it)
			}
			out = append(out, s)
		}
		return trimAll(out), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		return trimAll(strings.Split(x, ListSeparator)), nil
	default:
		return nil, fmt.Errorf("unsupported list type %T", v)
	}
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func countDistinct(items, only []string) int {
	allowed := make(map[string]bool, len(only))
	for _, c := range only {
		allowed[strings.ToUpper(c)] = true
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		k := strings.ToUpper(it)
		if len(allowed) > 0 && !allowed[k] {
			continue
		}
		seen[k] = true
	}
	return len(seen)
}
