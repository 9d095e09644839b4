// Package ingest loads curated FAQ seed files into the knowledge store.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// Format is a seed file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// DefaultCategory is used for rows without a category.
const DefaultCategory = "general"

// ErrUnknownFormat is returned for files that are neither YAML nor CSV.
var ErrUnknownFormat = errors.New("unknown seed format")

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// ParsedSeed is the content of one seed file.
type ParsedSeed struct {
	Entries []ParsedFAQ
	Errors  []ParseError
}

// HasErrors reports whether any row was rejected.
func (s *ParsedSeed) HasErrors() bool {
	for _, e := range s.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ParsedFAQ is one accepted seed row.
type ParsedFAQ struct {
	Category string
	Question string
	Answer   string
	Keywords []string
	Priority int
	Active   bool
	Line     int
}

// Entry converts the row to a storage model.
func (p ParsedFAQ) Entry() *storage.FaqEntry {
	return &storage.FaqEntry{
		Category: p.Category,
		Question: p.Question,
		Answer:   p.Answer,
		Keywords: p.Keywords,
		Priority: p.Priority,
		Active:   p.Active,
	}
}

// Severity of a parse problem.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ParseError is a rejected row or a warning about an accepted one.
type ParseError struct {
	Line     int
	Message  string
	Severity string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Parse reads a seed file. Row problems are collected in the result; only
// an unreadable file is returned as an error.
func Parse(r io.Reader, format Format) (*ParsedSeed, error) {
	switch format {
	case FormatYAML:
		return parseYAML(r)
	case FormatCSV:
		return parseCSV(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

type yamlFAQ struct {
	Category string   `yaml:"category"`
	Question string   `yaml:"question"`
	Answer   string   `yaml:"answer"`
	Keywords []string `yaml:"keywords"`
	Priority int      `yaml:"priority"`
	Active   *bool    `yaml:"active"`
}

type yamlSeed struct {
	FAQs []yaml.Node `yaml:"faqs"`
}

// parseYAML accepts either a top-level list or a document with a faqs key.
func parseYAML(r io.Reader) (*ParsedSeed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse yaml seed: %w", err)
	}

	var items []yaml.Node
	if len(root.Content) > 0 {
		doc := root.Content[0]
		switch doc.Kind {
		case yaml.SequenceNode:
			for _, n := range doc.Content {
				items = append(items, *n)
			}
		case yaml.MappingNode:
			var seed yamlSeed
			if err := doc.Decode(&seed); err != nil {
				return nil, fmt.Errorf("parse yaml seed: %w", err)
			}
			items = seed.FAQs
		default:
			return nil, fmt.Errorf("parse yaml seed: expected a list or a faqs mapping")
		}
	}

	b := newSeedBuilder()
	for i := range items {
		node := &items[i]
		var item yamlFAQ
		if err := node.Decode(&item); err != nil {
			b.reject(node.Line, err.Error())
			continue
		}
		active := true
		if item.Active != nil {
			active = *item.Active
		}
		b.add(ParsedFAQ{
			Category: item.Category,
			Question: item.Question,
			Answer:   item.Answer,
			Keywords: item.Keywords,
			Priority: item.Priority,
			Active:   active,
			Line:     node.Line,
		})
	}
	return b.seed, nil
}

var csvColumns = []string{"category", "question", "answer", "keywords", "priority", "active"}

// parseCSV reads a CSV file with a header row. Only question and answer
// columns are required; keywords are separated by ';' or '|'.
func parseCSV(r io.Reader) (*ParsedSeed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &ParsedSeed{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"question", "answer"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("csv seed is missing the %q column (expected %s)", required, strings.Join(csvColumns, ","))
		}
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	b := newSeedBuilder()
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				b.reject(perr.Line, perr.Err.Error())
				continue
			}
			return nil, fmt.Errorf("read csv seed: %w", err)
		}
		line, _ := reader.FieldPos(0)

		row := ParsedFAQ{
			Category: field(record, "category"),
			Question: field(record, "question"),
			Answer:   field(record, "answer"),
			Keywords: splitKeywords(field(record, "keywords")),
			Active:   true,
			Line:     line,
		}
		if raw := field(record, "priority"); raw != "" {
			p, err := strconv.Atoi(raw)
			if err != nil {
				b.reject(line, fmt.Sprintf("invalid priority %q", raw))
				continue
			}
			row.Priority = p
		}
		if raw := field(record, "active"); raw != "" {
			active, err := strconv.ParseBool(raw)
			if err != nil {
				b.reject(line, fmt.Sprintf("invalid active flag %q", raw))
				continue
			}
			row.Active = active
		}
		b.add(row)
	}
	return b.seed, nil
}

func splitKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' })
}

// seedBuilder validates rows and folds duplicates, keeping the last one.
type seedBuilder struct {
	seed  *ParsedSeed
	index map[string]int
}

func newSeedBuilder() *seedBuilder {
	return &seedBuilder{seed: &ParsedSeed{}, index: make(map[string]int)}
}

func (b *seedBuilder) reject(line int, msg string) {
	b.seed.Errors = append(b.seed.Errors, ParseError{Line: line, Message: msg, Severity: SeverityError})
}

func (b *seedBuilder) warn(line int, msg string) {
	b.seed.Errors = append(b.seed.Errors, ParseError{Line: line, Message: msg, Severity: SeverityWarning})
}

func (b *seedBuilder) add(row ParsedFAQ) {
	row.Question = strings.TrimSpace(row.Question)
	row.Answer = strings.TrimSpace(row.Answer)
	row.Category = strings.ToLower(strings.TrimSpace(row.Category))

	if row.Question == "" {
		b.reject(row.Line, "question is required")
		return
	}
	if row.Answer == "" {
		b.reject(row.Line, "answer is required")
		return
	}
	if row.Category == "" {
		row.Category = DefaultCategory
	}
	row.Keywords = cleanKeywords(row.Keywords)
	if len(row.Keywords) == 0 {
		b.warn(row.Line, "no keywords; matching relies on question text only")
	}

	key := row.Category + "\x00" + strings.ToLower(row.Question)
	if i, ok := b.index[key]; ok {
		b.warn(row.Line, fmt.Sprintf("duplicate of line %d, later row wins", b.seed.Entries[i].Line))
		b.seed.Entries[i] = row
		return
	}
	b.index[key] = len(b.seed.Entries)
	b.seed.Entries = append(b.seed.Entries, row)
}

func cleanKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}
