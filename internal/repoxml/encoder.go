package repoxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/zjrosen/obr/internal/attr"
	"github.com/zjrosen/obr/internal/resource"
)

// Encoder writes documents to a stream.
type Encoder struct {
	f *Factory
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func (f *Factory) NewEncoder(w io.Writer) *Encoder {
	return &Encoder{f: f, w: w}
}

// Encode writes doc. Directives and attributes are written sorted by name;
// attributes carry an explicit type unless they are plain strings.
func (e *Encoder) Encode(doc *Document) error {
	if _, err := io.WriteString(e.w, xml.Header); err != nil {
		return fmt.Errorf("writing repository document: %w", err)
	}

	xe := xml.NewEncoder(e.w)
	if e.f.indent != "" {
		xe.Indent("", e.f.indent)
	}
	w := &tokenWriter{xe: xe}

	root := xml.StartElement{Name: xml.Name{Space: Namespace, Local: elemRepository}}
	if doc.Name != "" {
		root.Attr = append(root.Attr, xmlAttr("name", doc.Name))
	}
	root.Attr = append(root.Attr, xmlAttr("increment", strconv.FormatInt(doc.Increment, 10)))
	w.start(root)

	for _, ref := range doc.Referrals {
		attrs := []xml.Attr{xmlAttr("url", ref.URL)}
		if ref.Depth > 0 {
			attrs = append(attrs, xmlAttr("depth", strconv.Itoa(ref.Depth)))
		}
		w.empty(elemReferral, attrs...)
	}

	for _, res := range doc.Resources {
		w.start(element(elemResource))
		for _, c := range res.Capabilities() {
			w.entry(elemCapability, c.Namespace(), c.Directives(), c.Attributes())
		}
		for _, r := range res.Requirements() {
			w.entry(elemRequirement, r.Namespace(), r.Directives(), r.Attributes())
		}
		w.end(elemResource)
	}

	w.token(xml.EndElement{Name: root.Name})
	w.flush()
	if w.err == nil {
		_, w.err = io.WriteString(e.w, "\n")
	}
	if w.err != nil {
		return fmt.Errorf("writing repository document: %w", w.err)
	}
	return nil
}

// tokenWriter keeps the first encoding error.
type tokenWriter struct {
	xe  *xml.Encoder
	err error
}

func (w *tokenWriter) token(t xml.Token) {
	if w.err == nil {
		w.err = w.xe.EncodeToken(t)
	}
}

func (w *tokenWriter) start(s xml.StartElement) { w.token(s) }

func (w *tokenWriter) end(name string) {
	w.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *tokenWriter) empty(name string, attrs ...xml.Attr) {
	w.start(element(name, attrs...))
	w.end(name)
}

func (w *tokenWriter) entry(kind, namespace string, directives map[string]string, attrs attr.Attributes) {
	w.start(element(kind, xmlAttr("namespace", namespace)))
	for _, name := range slices.Sorted(maps.Keys(directives)) {
		w.empty(elemDirective, xmlAttr("name", name), xmlAttr("value", directives[name]))
	}
	for _, name := range attrs.Names() {
		v, _ := attrs.Get(name)
		xa := []xml.Attr{xmlAttr("name", name), xmlAttr("value", attr.Format(v))}
		if t := v.Type(); t != (attr.Type{Kind: attr.KindString}) {
			xa = append(xa, xmlAttr("type", t.String()))
		}
		w.empty(elemAttribute, xa...)
	}
	w.end(kind)
}

func (w *tokenWriter) flush() {
	if w.err == nil {
		w.err = w.xe.Flush()
	}
}

func element(name string, attrs ...xml.Attr) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
}

func xmlAttr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// DocumentOf builds a document from the resources of a repository.
func DocumentOf(name string, increment int64, resources []*resource.Resource) *Document {
	return &Document{Name: name, Increment: increment, Resources: slices.Clone(resources)}
}
