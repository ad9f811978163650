package catalog

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

//go:embed domains/*.yaml
var domainFS embed.FS

// ErrUnknownDomain is returned when a domain name is not in the catalog.
var ErrUnknownDomain = errors.New("unknown domain")

// BuiltinSource marks documents compiled into the binary.
const BuiltinSource = "builtin"

// ListBuiltin returns the names of all embedded domains, sorted.
func ListBuiltin() []string {
	entries, _ := domainFS.ReadDir("domains")
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}

// LoadBuiltin parses and builds an embedded domain by name.
func LoadBuiltin(name string) (*Definition, error) {
	data, err := domainFS.ReadFile("domains/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownDomain, name, strings.Join(ListBuiltin(), ", "))
	}
	doc, err := Parse(data, BuiltinSource)
	if err != nil {
		return nil, err
	}
	if doc.Name != name {
		return nil, fmt.Errorf("embedded domain file %s.yaml declares name %q", name, doc.Name)
	}
	return Build(doc)
}

// Catalog holds every domain available to a process. Domains are immutable,
// so a Catalog is safe for concurrent reads.
type Catalog struct {
	defs map[string]*Definition
}

// New loads the embedded domains and, when dir is non-empty, every *.yaml
// or *.yml document in dir. A directory document replaces an embedded one of
// the same name; a replacement with a lower version is logged.
func New(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{defs: make(map[string]*Definition)}
	for _, name := range ListBuiltin() {
		def, err := LoadBuiltin(name)
		if err != nil {
			return nil, err
		}
		c.defs[name] = def
	}
	if dir == "" {
		return c, nil
	}

	paths, err := documentPaths(dir)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		name := def.Domain.Name()
		if prev, ok := c.defs[name]; ok {
			if prev.Document.Source != BuiltinSource {
				return nil, fmt.Errorf("domain %q defined twice: %s and %s", name, prev.Document.Source, path)
			}
			if semver.Compare(def.Domain.Version(), prev.Domain.Version()) < 0 {
				logger.Warn("domain file downgrades builtin",
					slog.String("domain", name),
					slog.String("builtin_version", prev.Domain.Version()),
					slog.String("file_version", def.Domain.Version()),
					slog.String("path", path),
				)
			}
		}
		logger.Debug("loaded domain", slog.String("domain", name), slog.String("version", def.Domain.Version()), slog.String("path", path))
		c.defs[name] = def
	}
	return c, nil
}

// LoadFile parses and builds a domain document from disk.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain file: %w", err)
	}
	doc, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}

func documentPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read domain dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Get returns a domain by name.
func (c *Catalog) Get(name string) (*Definition, error) {
	def, ok := c.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownDomain, name, strings.Join(c.Names(), ", "))
	}
	return def, nil
}

// Names returns all domain names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for n := range c.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all domains ordered by name.
func (c *Catalog) Definitions() []*Definition {
	out := make([]*Definition, 0, len(c.defs))
	for _, n := range c.Names() {
		out = append(out, c.defs[n])
	}
	return out
}
