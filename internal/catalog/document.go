package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/tierkit/internal/reconcile"
)

//go:embed domain.schema.json
var schemaJSON []byte

// Document is the YAML form of a domain.
type Document struct {
	Name        string               `yaml:"name" json:"name"`
	Version     string               `yaml:"version" json:"version"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Constants   map[string]float64   `yaml:"constants,omitempty" json:"constants,omitempty"`
	Factors     []FactorDoc          `yaml:"factors" json:"factors"`
	Multipliers []MultiplierDoc      `yaml:"multipliers,omitempty" json:"multipliers,omitempty"`
	Classifier  ClassifierDoc        `yaml:"classifier" json:"classifier"`
	Composites  []CompositeDoc       `yaml:"composites,omitempty" json:"composites,omitempty"`
	Scales      []ScaleDoc           `yaml:"scales,omitempty" json:"scales,omitempty"`
	Capacity    []reconcile.Capacity `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Ranking     RankingDoc           `yaml:"ranking,omitempty" json:"ranking,omitempty"`

	// Source is "builtin" or the file the document was read from.
	Source string `yaml:"-" json:"source"`
}

type FactorDoc struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Weight      float64     `yaml:"weight" json:"weight"`
	Direction   string      `yaml:"direction,omitempty" json:"direction,omitempty"`
	Kind        string      `yaml:"kind,omitempty" json:"kind,omitempty"`
	Range       RangeDoc    `yaml:"range" json:"range"`
	Clamp       bool        `yaml:"clamp,omitempty" json:"clamp,omitempty"`
	Default     *float64    `yaml:"default,omitempty" json:"default,omitempty"`
	Extract     *ExtractDoc `yaml:"extract,omitempty" json:"extract,omitempty"`
}

type RangeDoc struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

type ExtractDoc struct {
	Kind         string       `yaml:"kind" json:"kind"`
	Attribute    string       `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	Category     string       `yaml:"category,omitempty" json:"category,omitempty"`
	Categories   []string     `yaml:"categories,omitempty" json:"categories,omitempty"`
	Threshold    float64      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	ThresholdRef string       `yaml:"threshold_ref,omitempty" json:"threshold_ref,omitempty"`
	Coefficient  float64      `yaml:"coefficient,omitempty" json:"coefficient,omitempty"`
	Offset       float64      `yaml:"offset,omitempty" json:"offset,omitempty"`
	Signals      []ExtractDoc `yaml:"signals,omitempty" json:"signals,omitempty"`
}

// StepDoc is one band of a step table. Upper is an inclusive bound; Below is
// an exclusive one, for cut-offs stated as "at least N". A step without
// either means +Inf and is only allowed last.
type StepDoc struct {
	Label string   `yaml:"label" json:"label"`
	Upper *float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
	Below *float64 `yaml:"below,omitempty" json:"below,omitempty"`
	Value float64  `yaml:"value,omitempty" json:"value,omitempty"`
}

type MultiplierDoc struct {
	Name   string    `yaml:"name" json:"name"`
	Factor string    `yaml:"factor" json:"factor"`
	Steps  []StepDoc `yaml:"steps" json:"steps"`
}

type TermDoc struct {
	Factor string  `yaml:"factor" json:"factor"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// CompositeDoc declares a secondary weighted score. Terms name factors or
// composites declared earlier. Decimals, when set, rounds the result before
// rules and scales read it.
type CompositeDoc struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Terms       []TermDoc `yaml:"terms" json:"terms"`
	Percent     bool      `yaml:"percent,omitempty" json:"percent,omitempty"`
	Decimals    *int      `yaml:"decimals,omitempty" json:"decimals,omitempty"`
}

type ScaleDoc struct {
	Name  string    `yaml:"name" json:"name"`
	Field string    `yaml:"field" json:"field"`
	Steps []StepDoc `yaml:"steps" json:"steps"`
}

type TierDoc struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

type BandDoc struct {
	ID    string   `yaml:"id" json:"id"`
	Label string   `yaml:"label,omitempty" json:"label,omitempty"`
	Upper *float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
}

type ClauseDoc struct {
	Field string  `yaml:"field" json:"field"`
	Op    string  `yaml:"op" json:"op"`
	Value float64 `yaml:"value" json:"value"`
}

type RuleDoc struct {
	Name  string      `yaml:"name" json:"name"`
	Tier  TierDoc     `yaml:"tier" json:"tier"`
	Match string      `yaml:"match,omitempty" json:"match,omitempty"`
	When  []ClauseDoc `yaml:"when" json:"when"`
}

// ClassifierDoc holds either bands or rules with a default tier.
type ClassifierDoc struct {
	Bands   []BandDoc `yaml:"bands,omitempty" json:"bands,omitempty"`
	Rules   []RuleDoc `yaml:"rules,omitempty" json:"rules,omitempty"`
	Default *TierDoc  `yaml:"default,omitempty" json:"default,omitempty"`
}

type RankDoc struct {
	Field string `yaml:"field" json:"field"`
	Order string `yaml:"order,omitempty" json:"order,omitempty"`
}

type RankingDoc struct {
	Default  *RankDoc           `yaml:"default,omitempty" json:"default,omitempty"`
	Clusters map[string]RankDoc `yaml:"clusters,omitempty" json:"clusters,omitempty"`
}

// ValidationError reports a document that failed schema or version checks.
type ValidationError struct {
	Source string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid domain document %s: %v", e.Source, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func domainSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var def any
		if err := json.Unmarshal(schemaJSON, &def); err != nil {
			schemaErr = fmt.Errorf("parse domain schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		const url = "schema://tierkit/domain.json"
		if err := c.AddResource(url, def); err != nil {
			schemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(url)
	})
	return compiledSchema, schemaErr
}

// Parse decodes and validates a YAML domain document. The JSON Schema check
// runs on the generic YAML tree first, so unknown keys and wrong types are
// reported before any Go decoding happens.
func Parse(data []byte, source string) (*Document, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, &ValidationError{Source: source, Err: fmt.Errorf("parse yaml: %w", err)}
	}

	// Round-trip through JSON so the validator sees plain JSON types.
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, &ValidationError{Source: source, Err: fmt.Errorf("convert to json: %w", err)}
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ValidationError{Source: source, Err: fmt.Errorf("convert to json: %w", err)}
	}

	schema, err := domainSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, &ValidationError{Source: source, Err: fmt.Errorf("schema validation failed: %w", err)}
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Source: source, Err: fmt.Errorf("decode: %w", err)}
	}
	if !semver.IsValid(doc.Version) {
		return nil, &ValidationError{Source: source, Err: fmt.Errorf("version %q is not a valid semantic version", doc.Version)}
	}
	// Canonical drops build metadata; keep it.
	doc.Version = semver.Canonical(doc.Version) + semver.Build(doc.Version)
	doc.Source = source
	return &doc, nil
}
