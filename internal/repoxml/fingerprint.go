package repoxml

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/zjrosen/obr/internal/attr"
)

// fingerprintMode is Core Deterministic Encoding: sorted map keys and
// minimal integer widths, so equal documents encode to equal bytes.
var fingerprintMode cbor.EncMode

func init() {
	var err error
	fingerprintMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("repoxml: CBOR encoder initialization failed: " + err.Error())
	}
}

type fpDocument struct {
	Name      string       `cbor:"1,keyasint"`
	Increment int64        `cbor:"2,keyasint"`
	Referrals []Referral   `cbor:"3,keyasint"`
	Resources []fpResource `cbor:"4,keyasint"`
}

type fpResource struct {
	Capabilities []fpEntry `cbor:"1,keyasint"`
	Requirements []fpEntry `cbor:"2,keyasint"`
}

type fpEntry struct {
	Namespace  string             `cbor:"1,keyasint"`
	Directives map[string]string  `cbor:"2,keyasint"`
	Attributes map[string]fpValue `cbor:"3,keyasint"`
}

type fpValue struct {
	Type string `cbor:"1,keyasint"`
	Text string `cbor:"2,keyasint"`
}

// Fingerprint returns the BLAKE3 hash of the canonical encoding of doc.
// Documents that decode to the same model have the same fingerprint
// regardless of whitespace, element order of directives and attributes, or
// list escaping.
func Fingerprint(doc *Document) [32]byte {
	fp := fpDocument{Name: doc.Name, Increment: doc.Increment, Referrals: doc.Referrals}
	for _, res := range doc.Resources {
		var r fpResource
		for _, c := range res.Capabilities() {
			r.Capabilities = append(r.Capabilities, fpEntryOf(c.Namespace(), c.Directives(), c.Attributes()))
		}
		for _, q := range res.Requirements() {
			r.Requirements = append(r.Requirements, fpEntryOf(q.Namespace(), q.Directives(), q.Attributes()))
		}
		fp.Resources = append(fp.Resources, r)
	}

	data, err := fingerprintMode.Marshal(fp)
	if err != nil {
		// Only plain strings, integers, slices and string-keyed maps are
		// encoded above.
		panic("repoxml: fingerprint encoding failed: " + err.Error())
	}
	return blake3.Sum256(data)
}

func fpEntryOf(namespace string, directives map[string]string, attrs attr.Attributes) fpEntry {
	e := fpEntry{Namespace: namespace, Directives: directives, Attributes: make(map[string]fpValue, attrs.Len())}
	for _, name := range attrs.Names() {
		v, _ := attrs.Get(name)
		e.Attributes[name] = fpValue{Type: v.Type().String(), Text: attr.Format(v)}
	}
	return e
}
