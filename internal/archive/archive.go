// Package archive assembles named payloads into a single ZIP container.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// ContentType is the MIME type of a finalized archive.
const ContentType = "application/zip"

var (
	ErrFinalized = errors.New("archive already finalized")
	ErrEmptyName = errors.New("archive entry name must not be empty")
	ErrBadName   = errors.New("archive entry name must be a relative slash-separated path without . or .. elements")
)

type entry struct {
	name string
	data []byte
}

// Archive collects entries in insertion order. It has a single writer and is
// not safe for concurrent use.
type Archive struct {
	entries  []entry
	index    map[string]int
	modified time.Time
	done     bool
}

// New returns an empty archive. Entries are stamped with the creation time.
func New() *Archive {
	return &Archive{index: make(map[string]int), modified: time.Now()}
}

// Add stores data under name. Adding a name that already exists replaces the
// earlier payload in place and reports replaced=true. Names must pass
// fs.ValidPath so no entry can extract outside the archive root.
func (a *Archive) Add(name string, data []byte) (replaced bool, err error) {
	if a.done {
		return false, ErrFinalized
	}
	if name == "" {
		return false, ErrEmptyName
	}
	if !fs.ValidPath(name) {
		return false, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if i, ok := a.index[name]; ok {
		a.entries[i].data = data
		return true, nil
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, entry{name: name, data: data})
	return false, nil
}

// Remove deletes the entry stored under name and reports whether it existed.
func (a *Archive) Remove(name string) (bool, error) {
	if a.done {
		return false, ErrFinalized
	}
	i, ok := a.index[name]
	if !ok {
		return false, nil
	}
	a.entries = append(a.entries[:i], a.entries[i+1:]...)
	delete(a.index, name)
	for j := i; j < len(a.entries); j++ {
		a.index[a.entries[j].name] = j
	}
	return true, nil
}

// Has reports whether an entry with name exists.
func (a *Archive) Has(name string) bool {
	_, ok := a.index[name]
	return ok
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Names returns entry names in archive order.
func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.name
	}
	return names
}

// Finalize writes every entry with Deflate compression and returns the
// container bytes. It succeeds once; later calls return ErrFinalized.
func (a *Archive) Finalize() ([]byte, error) {
	if a.done {
		return nil, ErrFinalized
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range a.entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: a.modified,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	a.done = true
	a.entries = nil
	a.index = nil
	return buf.Bytes(), nil
}
