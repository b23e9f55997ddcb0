package repoxml

import "fmt"

// StructuralError reports a malformed document. Line and Column are 1-based
// and zero when unknown.
type StructuralError struct {
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *StructuralError) Error() string {
	s := "repository document"
	if e.Line > 0 {
		s += fmt.Sprintf(" %d:%d", e.Line, e.Column)
	}
	s += ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *StructuralError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports an attribute whose declared type is unknown,
// or a list whose elements do not all fit the declared element type.
type UnsupportedTypeError struct {
	Line      int
	Column    int
	Attribute string
	Type      string
	Reason    string
}

func (e *UnsupportedTypeError) Error() string {
	s := "repository document"
	if e.Line > 0 {
		s += fmt.Sprintf(" %d:%d", e.Line, e.Column)
	}
	s += fmt.Sprintf(": attribute %q: unsupported type %q", e.Attribute, e.Type)
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	return s
}
