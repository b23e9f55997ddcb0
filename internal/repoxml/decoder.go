package repoxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zjrosen/obr/internal/attr"
	"github.com/zjrosen/obr/internal/filter"
	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/resource"
)

var errDecoded = errors.New("repoxml: document already decoded")

// Decoder reads one document from a stream. Header may be called on its own
// to inspect the root attributes without parsing the body.
type Decoder struct {
	f      *Factory
	xd     *xml.Decoder
	header *Header
	err    error
}

// NewDecoder returns a decoder reading from r.
func (f *Factory) NewDecoder(r io.Reader) *Decoder {
	return &Decoder{f: f, xd: xml.NewDecoder(r)}
}

// Header reads up to and including the root start element.
func (d *Decoder) Header() (Header, error) {
	if d.header != nil {
		return *d.header, nil
	}
	if d.err != nil {
		return Header{}, d.err
	}
	h, err := d.readHeader()
	if err != nil {
		d.err = err
		return Header{}, err
	}
	d.header = &h
	return h, nil
}

// Decode reads the rest of the document.
func (d *Decoder) Decode() (*Document, error) {
	h, err := d.Header()
	if err != nil {
		return nil, err
	}
	doc, err := d.decodeBody(h)
	if err != nil {
		d.err = err
		return nil, err
	}
	d.err = errDecoded
	log.Debug(log.CatXML, "decoded repository document",
		"name", doc.Name, "increment", doc.Increment, "resources", len(doc.Resources), "referrals", len(doc.Referrals))
	return doc, nil
}

func (d *Decoder) readHeader() (Header, error) {
	for {
		tok, err := d.xd.Token()
		if errors.Is(err, io.EOF) {
			return Header{}, d.structural("missing root element <%s>", elemRepository)
		}
		if err != nil {
			return Header{}, d.readErr(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != elemRepository {
				return Header{}, d.structural("root element is <%s>, want <%s>", t.Name.Local, elemRepository)
			}
			h := Header{XMLNS: t.Name.Space}
			h.Name, _ = attrOf(t, "name")
			if s, ok := attrOf(t, "increment"); ok && strings.TrimSpace(s) != "" {
				n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
				if err != nil {
					return Header{}, d.structural("invalid increment %q", s)
				}
				h.Increment = n
			}
			return h, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return Header{}, d.structural("text before root element")
			}
		}
	}
}

func (d *Decoder) decodeBody(h Header) (*Document, error) {
	doc := &Document{Name: h.Name, Increment: h.Increment}
	for {
		tok, err := d.token(elemRepository)
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case elemReferral:
				ref, err := d.referral(t)
				if err != nil {
					return nil, err
				}
				doc.Referrals = append(doc.Referrals, ref)
			case elemResource:
				res, err := d.resource()
				if err != nil {
					return nil, err
				}
				doc.Resources = append(doc.Resources, res)
			default:
				if err := d.unexpected(t, elemRepository); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			return doc, nil
		}
	}
}

func (d *Decoder) referral(start xml.StartElement) (Referral, error) {
	url, ok := attrOf(start, "url")
	if !ok || strings.TrimSpace(url) == "" {
		return Referral{}, d.structural("<%s> missing url attribute", elemReferral)
	}
	ref := Referral{URL: strings.TrimSpace(url)}
	if s, ok := attrOf(start, "depth"); ok && strings.TrimSpace(s) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 0 {
			return Referral{}, d.structural("invalid referral depth %q", s)
		}
		ref.Depth = n
	}
	return ref, d.skip()
}

func (d *Decoder) resource() (*resource.Resource, error) {
	b := resource.NewBuilder()
	for {
		tok, err := d.token(elemResource)
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case elemCapability:
				e, err := d.entry(t)
				if err != nil {
					return nil, err
				}
				b.Capability(e.namespace, e.directives, e.attrs)
			case elemRequirement:
				e, err := d.entry(t)
				if err != nil {
					return nil, err
				}
				b.Requirement(e.namespace, e.directives, e.attrs)
			default:
				if err := d.unexpected(t, elemResource); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			res, err := b.Build()
			if err != nil {
				return nil, d.wrap("invalid resource", err)
			}
			return res, nil
		}
	}
}

type entry struct {
	namespace  string
	directives map[string]string
	attrs      attr.Attributes
}

func (d *Decoder) entry(start xml.StartElement) (entry, error) {
	kind := start.Name.Local
	line, col := d.xd.InputPos()

	ns, ok := attrOf(start, "namespace")
	if !ok || ns == "" {
		return entry{}, d.structural("<%s> missing namespace attribute", kind)
	}
	e := entry{namespace: ns, directives: map[string]string{}}
	values := map[string]attr.Value{}

	for {
		tok, err := d.token(kind)
		if err != nil {
			return entry{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case elemDirective:
				name, value, err := d.nameValue(t)
				if err != nil {
					return entry{}, err
				}
				if _, dup := e.directives[name]; dup {
					return entry{}, d.structural("duplicate directive %q", name)
				}
				e.directives[name] = value
				if err := d.skip(); err != nil {
					return entry{}, err
				}
			case elemAttribute:
				name, v, err := d.attribute(t)
				if err != nil {
					return entry{}, err
				}
				if _, dup := values[name]; dup {
					return entry{}, d.structural("duplicate attribute %q", name)
				}
				values[name] = v
			default:
				if err := d.unexpected(t, kind); err != nil {
					return entry{}, err
				}
			}
		case xml.EndElement:
			if f, ok := e.directives[resource.DirectiveFilter]; ok && kind == elemRequirement {
				if _, err := filter.Parse(f); err != nil {
					return entry{}, &StructuralError{Line: line, Column: col, Msg: "invalid filter directive", Err: err}
				}
			}
			e.attrs = attr.New(values)
			return e, nil
		}
	}
}

func (d *Decoder) nameValue(start xml.StartElement) (string, string, error) {
	name, ok := attrOf(start, "name")
	if !ok || name == "" {
		return "", "", d.structural("<%s> missing name attribute", start.Name.Local)
	}
	value, ok := attrOf(start, "value")
	if !ok {
		return "", "", d.structural("<%s name=%q> missing value attribute", start.Name.Local, name)
	}
	return name, value, nil
}

func (d *Decoder) attribute(start xml.StartElement) (string, attr.Value, error) {
	name, text, err := d.nameValue(start)
	if err != nil {
		return "", nil, err
	}
	typeName, _ := attrOf(start, "type")
	line, col := d.xd.InputPos()

	t, ok := attr.ParseType(typeName)
	if !ok {
		return "", nil, &UnsupportedTypeError{Line: line, Column: col, Attribute: name, Type: typeName}
	}
	v, err := attr.Parse(t, text)
	if err != nil {
		if t.List {
			return "", nil, &UnsupportedTypeError{Line: line, Column: col, Attribute: name, Type: typeName, Reason: "heterogeneous list: " + err.Error()}
		}
		return "", nil, &StructuralError{Line: line, Column: col, Msg: fmt.Sprintf("attribute %q", name), Err: err}
	}
	return name, v, d.skip()
}

// token returns the next token inside parent, ignoring character data,
// comments and processing instructions.
func (d *Decoder) token(parent string) (xml.Token, error) {
	for {
		tok, err := d.xd.Token()
		if errors.Is(err, io.EOF) {
			return nil, d.structural("unexpected end of document inside <%s>", parent)
		}
		if err != nil {
			return nil, d.readErr(err)
		}
		switch tok.(type) {
		case xml.StartElement, xml.EndElement:
			return tok, nil
		}
	}
}

func (d *Decoder) skip() error {
	if err := d.xd.Skip(); err != nil {
		if errors.Is(err, io.EOF) {
			return d.structural("unexpected end of document")
		}
		return d.readErr(err)
	}
	return nil
}

func (d *Decoder) unexpected(t xml.StartElement, parent string) error {
	if d.f.strict {
		return d.structural("unexpected element <%s> in <%s>", t.Name.Local, parent)
	}
	line, col := d.xd.InputPos()
	log.Debug(log.CatXML, "skipping unknown element", "element", t.Name.Local, "parent", parent, "line", line, "column", col)
	return d.skip()
}

func (d *Decoder) structural(format string, args ...any) error {
	line, col := d.xd.InputPos()
	return &StructuralError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func (d *Decoder) wrap(msg string, err error) error {
	line, col := d.xd.InputPos()
	return &StructuralError{Line: line, Column: col, Msg: msg, Err: err}
}

// readErr maps XML syntax errors to structural errors and passes reader
// failures through.
func (d *Decoder) readErr(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		_, col := d.xd.InputPos()
		return &StructuralError{Line: se.Line, Column: col, Msg: se.Msg}
	}
	return fmt.Errorf("reading repository document: %w", err)
}

func attrOf(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name && a.Name.Space == "" {
			return a.Value, true
		}
	}
	return "", false
}
