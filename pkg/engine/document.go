package engine

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/mockctl/internal/matching"
)

// MaxDocumentSize bounds a configuration document.
const MaxDocumentSize = 10 << 20

// Response orders.
const (
	OrderSequential = "sequential"
	OrderRandom     = "random"
)

// Document is an engine configuration.
type Document struct {
	// Address overrides Options.Address when set.
	Address         string        `json:"address,omitempty" yaml:"address,omitempty"`
	FallbackBaseURL string        `json:"fallbackBaseUrl,omitempty" yaml:"fallbackBaseUrl,omitempty"`
	Requests        []RequestSpec `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// RequestSpec pairs request criteria with canned responses.
type RequestSpec struct {
	Name              string `json:"name,omitempty" yaml:"name,omitempty"`
	matching.Criteria `yaml:",inline"`
	Priority          int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	ResponseOrder     string         `json:"responseOrder,omitempty" yaml:"responseOrder,omitempty"`
	Responses         []ResponseSpec `json:"responses" yaml:"responses"`
}

// ResponseSpec is one canned response. Body may be a string, sent as is,
// or any other JSON value, sent encoded.
type ResponseSpec struct {
	Status  int               `json:"status,omitempty" yaml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    any               `json:"body,omitempty" yaml:"body,omitempty"`
	Delay   string            `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// ParseError lists everything wrong with a document.
type ParseError struct {
	Problems []string
}

func (e *ParseError) Error() string {
	return "invalid engine configuration: " + strings.Join(e.Problems, "; ")
}

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("config.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.json")
	})
	return schema, schemaErr
}

// Parse reads a JSON or YAML document, validates it against the embedded
// schema and checks that every matcher compiles.
func Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading engine configuration: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, &ParseError{Problems: []string{"document exceeds 10MB"}}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Problems: []string{"document is empty"}}
	}

	// YAML is a superset of JSON, so everything goes through the YAML
	// decoder and is normalized to JSON for validation.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Problems: []string{"syntax: " + err.Error()}}
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, &ParseError{Problems: []string{err.Error()}}
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling engine schema: %w", err)
	}
	var inst any
	if err := json.Unmarshal(jsonData, &inst); err != nil {
		return nil, &ParseError{Problems: []string{err.Error()}}
	}
	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &ParseError{Problems: schemaProblems(verr, nil)}
		}
		return nil, &ParseError{Problems: []string{err.Error()}}
	}

	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, &ParseError{Problems: []string{err.Error()}}
	}
	if problems := doc.check(); len(problems) > 0 {
		return nil, &ParseError{Problems: problems}
	}
	return &doc, nil
}

func schemaProblems(err *jsonschema.ValidationError, out []string) []string {
	if len(err.Causes) == 0 {
		loc := strings.TrimPrefix(err.InstanceLocation, "/")
		loc = strings.ReplaceAll(loc, "/", ".")
		if loc == "" {
			return append(out, err.Message)
		}
		return append(out, loc+": "+err.Message)
	}
	for _, c := range err.Causes {
		out = schemaProblems(c, out)
	}
	return out
}

// check covers what the schema cannot express.
func (d *Document) check() []string {
	var problems []string
	for i, rs := range d.Requests {
		if _, err := matching.Compile(rs.Criteria); err != nil {
			problems = append(problems, fmt.Sprintf("requests.%d: %v", i, err))
		}
		for j, resp := range rs.Responses {
			if resp.Delay == "" {
				continue
			}
			if dur, err := time.ParseDuration(resp.Delay); err != nil || dur < 0 {
				problems = append(problems, fmt.Sprintf("requests.%d.responses.%d.delay: invalid duration %q", i, j, resp.Delay))
			}
		}
	}
	return problems
}

// Format is a document encoding.
type Format string

// Formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q (expected json or yaml)", s)
}

// Encode writes d in the given format.
func (d *Document) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
}
