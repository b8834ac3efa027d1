// Package control reads the externally written desired-count directive.
package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a control file.
type Format string

const (
	// FormatJSON is {"desired_instances": N}.
	FormatJSON Format = "json"

	// FormatYAML is "desired_instances: N".
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from the file extension. Anything that
// is not .yaml or .yml is treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Directive is a desired-replica-count instruction.
type Directive struct {
	DesiredInstances int
}

// IsShutdown reports whether the directive requests a full shutdown.
func (d Directive) IsShutdown() bool {
	return d.DesiredInstances == 0
}

// ParseError reports malformed control file content.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed directive: %v", e.Err)
	}
	return fmt.Sprintf("malformed directive in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	errMissingField  = errors.New(`missing "desired_instances" field`)
	errNegativeCount = errors.New(`"desired_instances" must be >= 0`)
	errTrailingData  = errors.New("unexpected data after directive")
	errNotInteger    = errors.New(`"desired_instances" must be an integer`)
)

// record is the on-disk shape. A pointer distinguishes an absent field
// from an explicit zero.
type record struct {
	DesiredInstances *int `json:"desired_instances"`
}

// yamlRecord keeps the raw node so the scalar's resolved tag can be
// checked. Decoding straight into an int lets yaml.v3 truncate 0.9 to 0.
type yamlRecord struct {
	DesiredInstances yaml.Node `yaml:"desired_instances"`
}

func decodeYAML(data []byte) (*int, error) {
	var rec yamlRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	node := rec.DesiredInstances
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.ScalarNode || node.ShortTag() != "!!int" {
		return nil, errNotInteger
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ParseDirective decodes data as a directive. Unknown fields are ignored;
// a missing, non-integer or negative desired_instances is a *ParseError.
func ParseDirective(data []byte, format Format) (Directive, error) {
	var rec record

	switch format {
	case FormatYAML:
		n, err := decodeYAML(data)
		if err != nil {
			return Directive{}, &ParseError{Err: err}
		}
		rec.DesiredInstances = n
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&rec); err != nil {
			return Directive{}, &ParseError{Err: err}
		}
		if _, err := dec.Token(); err != io.EOF {
			return Directive{}, &ParseError{Err: errTrailingData}
		}
	}

	if rec.DesiredInstances == nil {
		return Directive{}, &ParseError{Err: errMissingField}
	}
	if *rec.DesiredInstances < 0 {
		return Directive{}, &ParseError{Err: errNegativeCount}
	}
	return Directive{DesiredInstances: *rec.DesiredInstances}, nil
}

// ReadDirective reads and parses the control file at path. present is
// false when the file does not exist, which is not an error.
func ReadDirective(path string) (d Directive, present bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Directive{}, false, nil
		}
		return Directive{}, true, fmt.Errorf("read control file: %w", err)
	}

	d, err = ParseDirective(data, FormatForPath(path))
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return Directive{}, true, err
	}
	return d, true, nil
}
