package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFieldsYAMLMatchesDefaults(t *testing.T) {
	s, err := ParseFieldSet([]byte(DefaultFieldsYAML()))
	require.NoError(t, err)
	assert.Equal(t, DefaultFieldSet(), s)
	assert.Equal(t, []string{"<Student Name>", "<College Name>"}, s.Tokens())
}

func TestParseFieldSet_CustomPlaceholders(t *testing.T) {
	s, err := ParseFieldSet([]byte(`
key_field: Name
fields:
  - column: Course
    placeholder: "{{course}}"
`))
	require.NoError(t, err)
	assert.Equal(t, "Name", s.KeyField)
	assert.Equal(t, []string{"<Name>", "{{course}}"}, s.Tokens())
}

func TestParseFieldSet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing key field", "fields:\n  - column: A\n"},
		{"empty column", "key_field: A\nfields:\n  - placeholder: x\n"},
		{"duplicate token", "key_field: A\nfields:\n  - column: A\n  - column: B\n    placeholder: <A>\n"},
		{"bad yaml", "key_field: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFieldSet([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFieldSet(t *testing.T) {
	s, err := LoadFieldSet("")
	require.NoError(t, err)
	assert.Equal(t, DefaultFieldSet(), s)

	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte("key_field: Learner\n"), 0o600))
	s, err = LoadFieldSet(path)
	require.NoError(t, err)
	assert.Equal(t, []Field{{Column: "Learner"}}, s.Fields)

	_, err = LoadFieldSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
