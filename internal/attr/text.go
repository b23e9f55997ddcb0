package attr

import (
	"fmt"
	"strings"
	"unicode"
)

// Parse converts the textual form of a value into a Value of type t.
//
// List text is comma separated. A backslash escapes the next character, so
// `\,` is a literal comma and `\\` a literal backslash. Unescaped whitespace
// around each element is trimmed. Whitespace-only text is an empty list and
// a lone `\` is the list holding one empty element.
func Parse(t Type, text string) (Value, error) {
	if !t.List {
		s, ok := Coerce(t.Kind, text)
		if !ok {
			return nil, fmt.Errorf("invalid %s value %q", t.Kind, text)
		}
		return s, nil
	}

	elems := SplitList(text)
	items := make([]Scalar, 0, len(elems))
	for _, e := range elems {
		s, ok := Coerce(t.Kind, e)
		if !ok {
			return nil, fmt.Errorf("invalid %s element %q in %s", t.Kind, e, t)
		}
		items = append(items, s)
	}
	return List{kind: t.Kind, items: items}, nil
}

// Format renders v in the textual form accepted by Parse for v.Type().
func Format(v Value) string {
	l, ok := v.(List)
	if !ok {
		return v.String()
	}
	if len(l.items) == 1 && l.items[0].String() == "" {
		return `\`
	}
	parts := make([]string, len(l.items))
	for i, it := range l.items {
		parts[i] = escapeElem(it.String())
	}
	return strings.Join(parts, ",")
}

type escRune struct {
	r       rune
	escaped bool
}

// SplitList splits list text on unescaped commas, resolving escapes and
// trimming unescaped whitespace around each element. A trailing backslash
// escapes nothing and is dropped.
func SplitList(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		out []string
		cur []escRune
	)
	flush := func() {
		start, end := 0, len(cur)
		for start < end && !cur[start].escaped && unicode.IsSpace(cur[start].r) {
			start++
		}
		for end > start && !cur[end-1].escaped && unicode.IsSpace(cur[end-1].r) {
			end--
		}
		var b strings.Builder
		for _, er := range cur[start:end] {
			b.WriteRune(er.r)
		}
		out = append(out, b.String())
		cur = cur[:0]
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			i++
			cur = append(cur, escRune{r: runes[i], escaped: true})
		case r == '\\':
		case r == ',':
			flush()
		default:
			cur = append(cur, escRune{r: r})
		}
	}
	flush()
	return out
}

func escapeElem(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		switch {
		case r == '\\' || r == ',':
			b.WriteByte('\\')
		case unicode.IsSpace(r) && (i == 0 || i == len(runes)-1):
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
