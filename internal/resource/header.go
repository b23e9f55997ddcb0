package resource

import (
	"fmt"
	"strings"
)

// Clause is one comma-separated entry of a manifest header such as
// Export-Package: `a.b;c.d;version="1.0";uses:="x,y"`.
type Clause struct {
	Paths      []string
	Directives map[string]string
	Attrs      map[string]string
	Types      map[string]string // declared attribute types, from `name:Type=value`
}

// ParseHeader splits a manifest header value into clauses. Quoted strings
// may contain the ',' ';' and '=' delimiters.
func ParseHeader(header string) ([]Clause, error) {
	var clauses []Clause
	for _, raw := range splitQuoted(header, ',') {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c := Clause{
			Directives: map[string]string{},
			Attrs:      map[string]string{},
			Types:      map[string]string{},
		}
		for _, part := range splitQuoted(raw, ';') {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			eq := strings.IndexByte(part, '=')
			if eq > 0 && part[eq-1] == ':' {
				c.Directives[strings.TrimSpace(part[:eq-1])] = unquote(part[eq+1:])
				continue
			}
			if eq >= 0 {
				key, value := strings.TrimSpace(part[:eq]), part[eq+1:]
				if name, typ, typed := strings.Cut(key, ":"); typed {
					key = strings.TrimSpace(name)
					c.Types[key] = strings.TrimSpace(typ)
				}
				if key == "" {
					return nil, fmt.Errorf("missing attribute name in clause %q", raw)
				}
				c.Attrs[key] = unquote(value)
				continue
			}
			if len(c.Directives) > 0 || len(c.Attrs) > 0 {
				return nil, fmt.Errorf("path %q follows parameters in clause %q", part, raw)
			}
			c.Paths = append(c.Paths, part)
		}
		if len(c.Paths) == 0 {
			return nil, fmt.Errorf("no path in clause %q", raw)
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

func splitQuoted(s string, sep byte) []string {
	var (
		out    []string
		start  int
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case '\\':
			if quoted {
				i++
			}
		case sep:
			if !quoted {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\"`, `"`)
	}
	return s
}
