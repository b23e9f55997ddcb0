// Package repoxml reads and writes repository documents: a <repository>
// root carrying name and increment, optional <referral> elements and
// <resource> elements whose capabilities and requirements hold typed
// <attribute> and <directive> children.
package repoxml

import (
	"bytes"
	"io"

	"github.com/zjrosen/obr/internal/resource"
)

// Namespace is the XML namespace written on the root element.
const Namespace = "http://www.osgi.org/xmlns/repository/v1.0.0"

const (
	elemRepository  = "repository"
	elemReferral    = "referral"
	elemResource    = "resource"
	elemCapability  = "capability"
	elemRequirement = "requirement"
	elemDirective   = "directive"
	elemAttribute   = "attribute"
)

// Header holds the root element attributes.
type Header struct {
	Name      string
	Increment int64
	XMLNS     string
}

// Referral points at another repository document.
type Referral struct {
	URL string
	// Depth limits how many further referral hops may be followed from
	// the referred document. Zero means unspecified.
	Depth int
}

// Document is a decoded repository document.
type Document struct {
	Name      string
	Increment int64
	Referrals []Referral
	Resources []*resource.Resource
}

// Header returns the root attributes of doc.
func (doc *Document) Header() Header {
	return Header{Name: doc.Name, Increment: doc.Increment, XMLNS: Namespace}
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithStrict controls whether unknown elements are errors. When false they
// are skipped with their content. Strict by default.
func WithStrict(strict bool) FactoryOption {
	return func(f *Factory) { f.strict = strict }
}

// WithIndent sets the indentation used by encoders. Empty writes compact
// output.
func WithIndent(indent string) FactoryOption {
	return func(f *Factory) { f.indent = indent }
}

// Factory creates decoders and encoders sharing one configuration. It is
// immutable and safe to share.
type Factory struct {
	strict bool
	indent string
}

// NewFactory returns a strict factory that indents with two spaces.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{strict: true, indent: "  "}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Strict reports whether decoders reject unknown elements.
func (f *Factory) Strict() bool { return f.strict }

// Decode reads a whole document from r.
func (f *Factory) Decode(r io.Reader) (*Document, error) {
	return f.NewDecoder(r).Decode()
}

// DecodeBytes reads a whole document from data.
func (f *Factory) DecodeBytes(data []byte) (*Document, error) {
	return f.Decode(bytes.NewReader(data))
}

// Encode writes doc to w.
func (f *Factory) Encode(w io.Writer, doc *Document) error {
	return f.NewEncoder(w).Encode(doc)
}

// EncodeBytes returns the encoded form of doc.
func (f *Factory) EncodeBytes(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
