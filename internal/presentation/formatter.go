package presentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/zjrosen/obr/internal/repoxml"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatProviders formats findProviders results as JSON
func (f *Formatter) FormatProviders(results []ProvidersDTO) error {
	return f.json(results)
}

// FormatRepositories formats configured repositories as JSON
func (f *Formatter) FormatRepositories(repos []RepositoryDTO) error {
	return f.json(repos)
}

// FormatSnapshots formats loaded snapshots as JSON
func (f *Formatter) FormatSnapshots(snaps []*SnapshotDTO) error {
	return f.json(snaps)
}

// FormatDocumentError writes a document error as a single
// "path:line:column: message" line. It reports whether err carried a
// position.
func (f *Formatter) FormatDocumentError(path string, err error) bool {
	line, col, ok := Position(err)
	if ok {
		_, _ = fmt.Fprintf(f.writer, "%s:%d:%d: %v\n", path, line, col, err)
		return true
	}
	_, _ = fmt.Fprintf(f.writer, "%s: %v\n", path, err)
	return false
}

// Position extracts the document position from a decode error.
func Position(err error) (line, col int, ok bool) {
	var se *repoxml.StructuralError
	if errors.As(err, &se) && se.Line > 0 {
		return se.Line, se.Column, true
	}
	var ue *repoxml.UnsupportedTypeError
	if errors.As(err, &ue) && ue.Line > 0 {
		return ue.Line, ue.Column, true
	}
	return 0, 0, false
}

func (f *Formatter) json(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
