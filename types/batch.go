// Package types defines the core domain types shared by the collector and
// the producer.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"strings"
)

// File is one named blob of a batch. Name is a plain base name.
type File struct {
	Name string
	Data []byte
}

// Batch is the ordered set of files for one timestep of one dataset.
// Order is significant: names and contents travel as two parallel lists.
type Batch struct {
	Files []File
}

// Errors returned by ValidateName and Batch.Validate.
var (
	ErrEmptyName      = errors.New("empty file name")
	ErrUnsafeName     = errors.New("file name must be a plain base name")
	ErrDuplicateName  = errors.New("duplicate file name")
	ErrLengthMismatch = errors.New("names and contents differ in length")
)

// ValidateName rejects names that could escape the output location.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}

// NewBatch pairs names with contents. The two lists must be the same length.
func NewBatch(names []string, contents [][]byte) (Batch, error) {
	if len(names) != len(contents) {
		return Batch{}, fmt.Errorf("%w: %d names, %d contents", ErrLengthMismatch, len(names), len(contents))
	}
	files := make([]File, len(names))
	for i := range names {
		files[i] = File{Name: names[i], Data: contents[i]}
	}
	b := Batch{Files: files}
	if err := b.Validate(); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Validate checks every name and rejects duplicates.
func (b Batch) Validate() error {
	seen := make(map[string]struct{}, len(b.Files))
	for _, f := range b.Files {
		if err := ValidateName(f.Name); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Names returns the file names in batch order.
func (b Batch) Names() []string {
	names := make([]string, len(b.Files))
	for i, f := range b.Files {
		names[i] = f.Name
	}
	return names
}

// Contents returns the file contents in batch order.
func (b Batch) Contents() [][]byte {
	contents := make([][]byte, len(b.Files))
	for i, f := range b.Files {
		contents[i] = f.Data
	}
	return contents
}

// Size returns the total number of content bytes.
func (b Batch) Size() int64 {
	var n int64
	for _, f := range b.Files {
		n += int64(len(f.Data))
	}
	return n
}

// Len returns the number of files.
func (b Batch) Len() int { return len(b.Files) }
