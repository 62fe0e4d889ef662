// Package config loads the field configuration that maps roster columns to
// template placeholder tokens.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultKeyField     = "Student Name"
	DefaultCollegeField = "College Name"
)

const defaultFieldsYAML = `# mail merge field configuration
# key_field must be present and non-empty in every roster row; it also names the output files.
key_field: Student Name

# Columns substituted into the template. placeholder defaults to <column>.
fields:
  - column: Student Name
  - column: College Name
`

// Field binds one roster column to a placeholder token.
type Field struct {
	Column      string `yaml:"column"`
	Placeholder string `yaml:"placeholder,omitempty"`
}

// Token returns the placeholder token for the field.
func (f Field) Token() string {
	if f.Placeholder != "" {
		return f.Placeholder
	}
	return "<" + f.Column + ">"
}

// FieldSet is the fixed set of fields substituted for every record.
type FieldSet struct {
	KeyField string  `yaml:"key_field"`
	Fields   []Field `yaml:"fields"`
}

// DefaultFieldSet returns the student/college field set.
func DefaultFieldSet() FieldSet {
	return FieldSet{
		KeyField: DefaultKeyField,
		Fields: []Field{
			{Column: DefaultKeyField},
			{Column: DefaultCollegeField},
		},
	}
}

// DefaultFieldsYAML returns a commented starting configuration.
func DefaultFieldsYAML() string {
	return defaultFieldsYAML
}

// Validate checks the set and adds the key field to Fields when missing.
func (s *FieldSet) Validate() error {
	if s.KeyField == "" {
		return errors.New("key_field must be set")
	}
	seenTokens := make(map[string]string)
	hasKey := false
	for i, f := range s.Fields {
		if f.Column == "" {
			return fmt.Errorf("fields[%d]: column must be set", i)
		}
		if other, ok := seenTokens[f.Token()]; ok {
			return fmt.Errorf("fields[%d]: placeholder %q already used by column %q", i, f.Token(), other)
		}
		seenTokens[f.Token()] = f.Column
		if f.Column == s.KeyField {
			hasKey = true
		}
	}
	if !hasKey {
		s.Fields = append([]Field{{Column: s.KeyField}}, s.Fields...)
	}
	return nil
}

// Tokens returns every placeholder token in field order.
func (s FieldSet) Tokens() []string {
	tokens := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		tokens[i] = f.Token()
	}
	return tokens
}

// ParseFieldSet decodes and validates a YAML field configuration.
func ParseFieldSet(data []byte) (FieldSet, error) {
	var s FieldSet
	if err := yaml.Unmarshal(data, &s); err != nil {
		return FieldSet{}, fmt.Errorf("failed to parse field config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return FieldSet{}, fmt.Errorf("invalid field config: %w", err)
	}
	return s, nil
}

// LoadFieldSet reads the YAML file at path. An empty path yields the
// default field set.
func LoadFieldSet(path string) (FieldSet, error) {
	if path == "" {
		return DefaultFieldSet(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FieldSet{}, fmt.Errorf("failed to read field config %s: %w", path, err)
	}
	return ParseFieldSet(data)
}
