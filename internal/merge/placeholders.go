package merge

import (
	"strings"
	"unicode"

	"github.com/Lllllllleong/docmergeflow/internal/config"
	"github.com/Lllllllleong/docmergeflow/internal/roster"
)

// PlaceholderMap maps a literal placeholder token to its value for one record.
type PlaceholderMap map[string]string

// BuildPlaceholders derives the token-to-value map for rec. Columns missing
// from the record substitute an empty string.
func BuildPlaceholders(fields config.FieldSet, rec roster.Record) PlaceholderMap {
	m := make(PlaceholderMap, len(fields.Fields))
	for _, f := range fields.Fields {
		m[f.Token()] = rec.Get(f.Column)
	}
	return m
}

// BaseName turns a record key into an archive-safe base name: whitespace
// and path separators become underscores, as do leading dots, so the result
// is never "." or ".." and never a hidden file. Surrounding whitespace is
// not trimmed.
func BaseName(key string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, key)
	trimmed := strings.TrimLeft(name, ".")
	name = strings.Repeat("_", len(name)-len(trimmed)) + trimmed
	if name == "" {
		return "_"
	}
	return name
}
