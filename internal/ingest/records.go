// Package ingest reads input records and capacity tables from files.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abhisek/tierkit/internal/factor"
)

// Format is an input file encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// DefaultIDColumn names the record identifier column when none is given.
const DefaultIDColumn = "record_id"

// ErrUnknownFormat is returned when a format cannot be detected or is not
// supported for the requested input.
var ErrUnknownFormat = errors.New("unknown input format")

// FormatError reports malformed input with its position.
type FormatError struct {
	Source string
	Line   int // 1-based; 0 when not applicable
	Err    error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Options controls record decoding.
type Options struct {
	Format   Format
	IDColumn string // defaults to DefaultIDColumn
	Source   string // name used in error messages
}

func (o Options) idColumn() string {
	if o.IDColumn == "" {
		return DefaultIDColumn
	}
	return o.IDColumn
}

func (o Options) source() string {
	if o.Source == "" {
		return "<input>"
	}
	return o.Source
}

// LoadRecords reads a record file, detecting its format from the extension
// unless opts.Format is set.
func LoadRecords(path string, opts Options) ([]factor.Record, error) {
	if opts.Format == "" {
		f, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		opts.Format = f
	}
	if opts.Source == "" {
		opts.Source = path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close()
	return ReadRecords(f, opts)
}

// ReadRecords decodes records from r. Records without an identifier are
// returned with an empty ID; the batch runner reports them.
func ReadRecords(r io.Reader, opts Options) ([]factor.Record, error) {
	switch opts.Format {
	case FormatCSV:
		return readCSV(r, opts)
	case FormatJSON:
		return readJSON(r, opts)
	case FormatJSONL:
		return readJSONL(r, opts)
	case FormatYAML:
		return readYAML(r, opts)
	}
	return nil, fmt.Errorf("%w for records: %q", ErrUnknownFormat, opts.Format)
}

// readCSV keeps every cell as a string. The normalizer parses numbers and
// splits ';'-separated lists, and blank cells count as missing.
func readCSV(r io.Reader, opts Options) ([]factor.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &FormatError{Source: opts.source(), Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, &FormatError{Source: opts.source(), Line: 1, Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	idCol := -1
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if h == "" {
			return nil, &FormatError{Source: opts.source(), Line: 1, Err: fmt.Errorf("column %d has no name", i+1)}
		}
		if seen[h] {
			return nil, &FormatError{Source: opts.source(), Line: 1, Err: fmt.Errorf("duplicate column %q", h)}
		}
		seen[h] = true
		if h == opts.idColumn() {
			idCol = i
		}
	}
	if idCol < 0 {
		return nil, &FormatError{Source: opts.source(), Line: 1, Err: fmt.Errorf("no %q column", opts.idColumn())}
	}

	var records []factor.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(opts.source(), err)
		}
		rec := factor.Record{
			ID:         strings.TrimSpace(row[idCol]),
			Attributes: make(map[string]any, len(row)-1),
		}
		for i, cell := range row {
			if i == idCol {
				continue
			}
			rec.Attributes[header[i]] = strings.TrimSpace(cell)
		}
		records = append(records, rec)
	}
	return records, nil
}

func csvError(source string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &FormatError{Source: source, Line: pe.Line, Err: pe.Err}
	}
	return &FormatError{Source: source, Err: err}
}

func readJSON(r io.Reader, opts Options) ([]factor.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	body := trimmed
	if trimmed[0] == '{' {
		// A lone object is only accepted as a {"records": [...]} wrapper.
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, &FormatError{Source: opts.source(), Err: err}
		}
		raw, ok := wrapper["records"]
		if !ok {
			return nil, &FormatError{Source: opts.source(), Err: errors.New(`expected an array of records or an object with a "records" array`)}
		}
		body = raw
	}
	var rows []map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, &FormatError{Source: opts.source(), Err: err}
	}
	if rows == nil {
		return nil, &FormatError{Source: opts.source(), Err: errors.New("records must be an array")}
	}

	records := make([]factor.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := recordFromObject(row, opts.idColumn())
		if err != nil {
			return nil, &FormatError{Source: opts.source(), Err: fmt.Errorf("record %d: %w", i, err)}
		}
		records = append(records, rec)
	}
	return records, nil
}

func readJSONL(r io.Reader, opts Options) ([]factor.Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var records []factor.Record
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var row map[string]any
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&row); err != nil {
			return nil, &FormatError{Source: opts.source(), Line: line, Err: err}
		}
		rec, err := recordFromObject(row, opts.idColumn())
		if err != nil {
			return nil, &FormatError{Source: opts.source(), Line: line, Err: err}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

func recordFromObject(row map[string]any, idColumn string) (factor.Record, error) {
	rec := factor.Record{Attributes: make(map[string]any, len(row))}
	for k, v := range row {
		if k != idColumn {
			rec.Attributes[k] = v
			continue
		}
		switch id := v.(type) {
		case nil:
		case string:
			rec.ID = strings.TrimSpace(id)
		case json.Number:
			rec.ID = id.String()
		case int:
			rec.ID = strconv.Itoa(id)
		case float64:
			rec.ID = strconv.FormatFloat(id, 'f', -1, 64)
		default:
			return factor.Record{}, fmt.Errorf("%s must be a string or number, got %T", idColumn, v)
		}
	}
	return rec, nil
}

// readYAML accepts a sequence of mappings or a mapping with a records key,
// mirroring the JSON layout.
func readYAML(r io.Reader, opts Options) ([]factor.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &FormatError{Source: opts.source(), Err: err}
	}
	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind == yaml.MappingNode {
		var list *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "records" {
				list = node.Content[i+1]
			}
		}
		if list == nil {
			return nil, &FormatError{Source: opts.source(), Line: node.Line, Err: errors.New("expected a list of records or a mapping with a records key")}
		}
		node = list
	}
	if node.Kind != yaml.SequenceNode {
		return nil, &FormatError{Source: opts.source(), Line: node.Line, Err: errors.New("records must be a list")}
	}

	records := make([]factor.Record, 0, len(node.Content))
	for _, item := range node.Content {
		var row map[string]any
		if err := item.Decode(&row); err != nil {
			return nil, &FormatError{Source: opts.source(), Line: item.Line, Err: err}
		}
		rec, err := recordFromObject(row, opts.idColumn())
		if err != nil {
			return nil, &FormatError{Source: opts.source(), Line: item.Line, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}
