package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/tierkit/internal/reconcile"
)

var validate = validator.New()

// LoadCapacities reads a capacity table from a CSV or YAML file.
func LoadCapacities(path string) ([]reconcile.Capacity, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capacity table: %w", err)
	}
	defer f.Close()
	return ReadCapacities(f, format, path)
}

// ReadCapacities decodes a capacity table. CSV needs "cluster" and
// "capacity" columns and may carry "status". YAML is either a list of
// entries or a mapping with a "capacity" list.
func ReadCapacities(r io.Reader, format Format, source string) ([]reconcile.Capacity, error) {
	if source == "" {
		source = "<capacity>"
	}
	var (
		caps []reconcile.Capacity
		err  error
	)
	switch format {
	case FormatCSV:
		caps, err = capacitiesFromCSV(r, source)
	case FormatYAML:
		caps, err = capacitiesFromYAML(r, source)
	default:
		return nil, fmt.Errorf("%w for capacity table: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	for i := range caps {
		if err := validate.Struct(&caps[i]); err != nil {
			return nil, &FormatError{Source: source, Err: fmt.Errorf("entry %d: %w", i, err)}
		}
	}
	caps, err = reconcile.ValidateCapacities(caps)
	if err != nil {
		return nil, &FormatError{Source: source, Err: err}
	}
	return caps, nil
}

func capacitiesFromCSV(r io.Reader, source string) ([]reconcile.Capacity, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, &FormatError{Source: source, Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, &FormatError{Source: source, Line: 1, Err: err}
	}

	col := map[string]int{"cluster": -1, "capacity": -1, "status": -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := col[h]; ok {
			col[h] = i
		}
	}
	if col["cluster"] < 0 || col["capacity"] < 0 {
		return nil, &FormatError{Source: source, Line: 1, Err: errors.New(`header needs "cluster" and "capacity" columns`)}
	}

	var caps []reconcile.Capacity
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(source, err)
		}
		line, _ := cr.FieldPos(0)
		n, err := strconv.Atoi(strings.TrimSpace(row[col["capacity"]]))
		if err != nil {
			return nil, &FormatError{Source: source, Line: line, Err: fmt.Errorf("capacity %q is not an integer", row[col["capacity"]])}
		}
		c := reconcile.Capacity{Cluster: strings.TrimSpace(row[col["cluster"]]), Capacity: n}
		if i := col["status"]; i >= 0 {
			c.Status = reconcile.Status(strings.TrimSpace(row[i]))
		}
		caps = append(caps, c)
	}
	return caps, nil
}

func capacitiesFromYAML(r io.Reader, source string) ([]reconcile.Capacity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read capacity table: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &FormatError{Source: source, Err: err}
	}
	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	var caps []reconcile.Capacity
	switch node.Kind {
	case yaml.SequenceNode:
		err = node.Decode(&caps)
	case yaml.MappingNode:
		var wrapper struct {
			Capacity []reconcile.Capacity `yaml:"capacity"`
		}
		err = node.Decode(&wrapper)
		caps = wrapper.Capacity
	default:
		err = errors.New("expected a list of capacities or a mapping with a capacity key")
	}
	if err != nil {
		return nil, &FormatError{Source: source, Line: node.Line, Err: err}
	}
	return caps, nil
}
