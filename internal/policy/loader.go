package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sqlgate/internal/domain"
)

// Document is the on-disk policy format.
type Document struct {
	AllowTables    []string          `yaml:"allow_tables"`
	DenyColumns    []string          `yaml:"deny_columns"`
	AllowFunctions []string          `yaml:"allow_functions"`
	JoinGraph      []JoinEdge        `yaml:"join_graph"`
	Limits         LimitsDocument    `yaml:"limits"`
	Glossary       map[string]Metric `yaml:"glossary"`
	Enumerables    []string          `yaml:"enumerables"`
}

// LimitsDocument distinguishes unset budgets from explicit values.
type LimitsDocument struct {
	MaxCost         *float64 `yaml:"max_cost"`
	MaxBytesScanned *int64   `yaml:"max_bytes_scanned"`
	MaxEstRows      *int64   `yaml:"max_est_rows"`
}

// LoadOptions tune how a document becomes a Policy.
type LoadOptions struct {
	// DefaultLimits fill budgets the document leaves unset. Zero fields fall
	// back to the built-in defaults.
	DefaultLimits Limits
	// Strict rejects unknown keys in the document.
	Strict bool
}

func (o LoadOptions) defaults() Limits {
	l := DefaultLimits()
	if o.DefaultLimits.MaxCost > 0 {
		l.MaxCost = o.DefaultLimits.MaxCost
	}
	if o.DefaultLimits.MaxBytesScanned > 0 {
		l.MaxBytesScanned = o.DefaultLimits.MaxBytesScanned
	}
	if o.DefaultLimits.MaxEstRows > 0 {
		l.MaxEstRows = o.DefaultLimits.MaxEstRows
	}
	return l
}

// LoadFile reads and builds the policy stored at path.
func LoadFile(path string, opts LoadOptions) (*Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.PolicyLoadError{Source: path, Err: fmt.Errorf("policy file not found")}
		}
		return nil, &domain.PolicyLoadError{Source: path, Err: err}
	}
	p, err := Load(bytes.NewReader(data), opts)
	if err != nil {
		var loadErr *domain.PolicyLoadError
		if errors.As(err, &loadErr) {
			loadErr.Source = path
		}
		return nil, err
	}
	p.source = path
	return p, nil
}

// Load decodes a YAML policy document from r. An empty document yields an
// empty policy: no tables allowed, no columns denied, functions unrestricted.
func Load(r io.Reader, opts LoadOptions) (*Policy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(opts.Strict)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &domain.PolicyLoadError{Err: fmt.Errorf("decode yaml: %w", err)}
	}
	return New(doc, opts)
}

// New builds a Policy from an already decoded document.
func New(doc Document, opts LoadOptions) (*Policy, error) {
	limits, err := resolveLimits(doc.Limits, opts.defaults())
	if err != nil {
		return nil, &domain.PolicyLoadError{Err: err}
	}

	enumerables := make([]Enumerable, 0, len(doc.Enumerables))
	for _, raw := range doc.Enumerables {
		e, ok := parseEnumerable(raw)
		if !ok {
			return nil, &domain.PolicyLoadError{Err: fmt.Errorf("enumerable %q must have the form table.column", raw)}
		}
		enumerables = append(enumerables, e)
	}

	glossary := make(map[string]Metric, len(doc.Glossary))
	for term, metric := range doc.Glossary {
		key := strings.ToLower(strings.TrimSpace(term))
		if key == "" {
			return nil, &domain.PolicyLoadError{Err: fmt.Errorf("glossary contains an empty term")}
		}
		if _, dup := glossary[key]; dup {
			return nil, &domain.PolicyLoadError{Err: fmt.Errorf("glossary term %q is defined more than once", key)}
		}
		glossary[key] = metric
	}

	fns := make(map[string]struct{}, len(doc.AllowFunctions))
	for _, f := range doc.AllowFunctions {
		fns[strings.ToLower(f)] = struct{}{}
	}

	return &Policy{
		allowTables:    toSet(doc.AllowTables),
		denyColumns:    toSet(doc.DenyColumns),
		allowFunctions: fns,
		doc:            doc,
		joinGraph:      doc.JoinGraph,
		limits:         limits,
		glossary:       glossary,
		enumerables:    enumerables,
	}, nil
}

func resolveLimits(doc LimitsDocument, defaults Limits) (Limits, error) {
	l := defaults
	if doc.MaxCost != nil {
		if *doc.MaxCost < 0 {
			return Limits{}, fmt.Errorf("limits.max_cost must not be negative")
		}
		l.MaxCost = *doc.MaxCost
	}
	if doc.MaxBytesScanned != nil {
		if *doc.MaxBytesScanned < 0 {
			return Limits{}, fmt.Errorf("limits.max_bytes_scanned must not be negative")
		}
		l.MaxBytesScanned = *doc.MaxBytesScanned
	}
	if doc.MaxEstRows != nil {
		if *doc.MaxEstRows < 0 {
			return Limits{}, fmt.Errorf("limits.max_est_rows must not be negative")
		}
		l.MaxEstRows = *doc.MaxEstRows
	}
	return l, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// parseEnumerable splits "table.column" and resolves each part the way
// PostgreSQL resolves identifiers: unquoted parts fold to lower case,
// double-quoted parts keep their spelling.
func parseEnumerable(raw string) (Enumerable, bool) {
	rest := strings.TrimSpace(raw)
	var parts []string
	for {
		part, next, ok := cutIdentifier(rest)
		if !ok {
			return Enumerable{}, false
		}
		parts = append(parts, part)
		if next == "" {
			break
		}
		if next[0] != '.' {
			return Enumerable{}, false
		}
		rest = next[1:]
	}
	if len(parts) != 2 {
		return Enumerable{}, false
	}
	return Enumerable{Table: parts[0], Column: parts[1]}, true
}

func cutIdentifier(s string) (name, rest string, ok bool) {
	if strings.HasPrefix(s, `"`) {
		var b strings.Builder
		for i := 1; i < len(s); i++ {
			if s[i] != '"' {
				b.WriteByte(s[i])
				continue
			}
			if i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			return b.String(), s[i+1:], b.Len() > 0
		}
		return "", "", false
	}
	end := strings.IndexByte(s, '.')
	if end < 0 {
		end = len(s)
	}
	name = s[:end]
	if name == "" || strings.ContainsAny(name, "\" \t\r\n") {
		return "", "", false
	}
	return foldIdentifier(name), s[end:], true
}

// foldIdentifier lower-cases A-Z only, as PostgreSQL does for unquoted
// identifiers.
func foldIdentifier(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
