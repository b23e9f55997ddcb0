package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/obr/internal/attr"
)

func TestParse_Structure(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		op     Op
		attr   string
		value  string
		pieces []string
	}{
		{name: "equal", input: "(a=b)", op: OpEqual, attr: "a", value: "b"},
		{name: "approx", input: "(a~=b)", op: OpApprox, attr: "a", value: "b"},
		{name: "gte", input: "(a>=1)", op: OpGreaterEqual, attr: "a", value: "1"},
		{name: "lte", input: "(a<=1)", op: OpLessEqual, attr: "a", value: "1"},
		{name: "gt", input: "(a>1)", op: OpGreater, attr: "a", value: "1"},
		{name: "lt", input: "(a<1)", op: OpLess, attr: "a", value: "1"},
		{name: "present", input: "(a=*)", op: OpPresent, attr: "a"},
		{name: "present collapsed", input: "(a=**)", op: OpPresent, attr: "a"},
		{name: "prefix", input: "(cn=Bab*)", op: OpSubstring, attr: "cn", pieces: []string{"Bab", ""}},
		{name: "suffix", input: "(cn=*sen)", op: OpSubstring, attr: "cn", pieces: []string{"", "sen"}},
		{name: "infix collapsed", input: "(cn=*a**b*)", op: OpSubstring, attr: "cn", pieces: []string{"", "a", "b", ""}},
		{name: "escaped star", input: `(cn=a\*b)`, op: OpEqual, attr: "cn", value: "a*b"},
		{name: "escaped parens", input: `(cn=\(x\)\\)`, op: OpEqual, attr: "cn", value: `(x)\`},
		{name: "trimmed name", input: "(  cn =x)", op: OpEqual, attr: "cn", value: "x"},
		{name: "value whitespace kept", input: "(cn= x )", op: OpEqual, attr: "cn", value: " x "},
		{name: "outer whitespace", input: "  (a=b)\n", op: OpEqual, attr: "a", value: "b"},
		{name: "star in gte is literal", input: "(a>=*)", op: OpGreaterEqual, attr: "a", value: "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.op, f.Op())
			assert.Equal(t, tt.attr, f.Attr())
			assert.Equal(t, tt.value, f.Value())
			if tt.pieces != nil {
				assert.Equal(t, tt.pieces, f.Pieces())
			}
		})
	}
}

func TestParse_Composite(t *testing.T) {
	f, err := Parse("(&(a=1) (|(b=2)(c=3)) (!(d=4)))")
	require.NoError(t, err)
	require.Equal(t, OpAnd, f.Op())

	children := f.Children()
	require.Len(t, children, 3)
	assert.Equal(t, OpEqual, children[0].Op())
	assert.Equal(t, OpOr, children[1].Op())
	assert.Len(t, children[1].Children(), 2)
	assert.Equal(t, OpNot, children[2].Op())
	assert.Equal(t, "d", children[2].Children()[0].Attr())
}

func TestParse_MatchAll(t *testing.T) {
	f, err := Parse("(*)")
	require.NoError(t, err)
	assert.Same(t, MatchAll(), f)
	assert.Equal(t, "(*)", MatchAll().String())

	other, err := Parse("(objectClass=*)")
	require.NoError(t, err)
	assert.NotSame(t, MatchAll(), other)
	assert.False(t, other.IsMatchAll())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		msg   string
		pos   int
	}{
		{name: "empty", input: "", msg: "empty expression", pos: 0},
		{name: "blank", input: "   ", msg: "empty expression", pos: 0},
		{name: "empty parens", input: "()", msg: "empty expression", pos: 0},
		{name: "no opening paren", input: "a=b", msg: "missing opening parenthesis", pos: 0},
		{name: "unbalanced", input: "(a=b", msg: "missing closing parenthesis", pos: 0},
		{name: "nested unbalanced", input: "(&(a=b)(c=d)", msg: "missing closing parenthesis", pos: 0},
		{name: "missing name", input: "(=b)", msg: "missing attribute name", pos: 0},
		{name: "missing operator", input: "(abc)", msg: `missing operator after "abc"`, pos: 0},
		{name: "bad approx", input: "(a~b)", msg: "unknown operator", pos: 2},
		{name: "empty and", input: "(&)", msg: `empty "&" expression`, pos: 0},
		{name: "empty or", input: "(| )", msg: `empty "|" expression`, pos: 0},
		{name: "not without operand", input: "(!)", msg: "negation requires an operand", pos: 0},
		{name: "not with two operands", input: "(!(a=b)(c=d))", msg: "negation takes exactly one operand", pos: 0},
		{name: "trailing input", input: "(a=b)(c=d)", msg: "unexpected trailing input", pos: 5},
		{name: "unescaped paren in value", input: "(a=b(c)", msg: "unescaped '(' in value", pos: 0},
		{name: "dangling escape", input: `(a=b\`, msg: "dangling escape", pos: 4},
		{name: "nested error position", input: "(&(a=1)(=2))", msg: "missing attribute name", pos: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.msg, pe.Msg)
			assert.Equal(t, tt.pos, pe.Pos)
			assert.Equal(t, tt.input, pe.Input)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestMatches_ConcreteScenarios(t *testing.T) {
	f := MustParse("(&(osgi.wiring.package=com.acme)(version>=1.0.0))")
	assert.True(t, f.Matches(attr.Of("osgi.wiring.package", "com.acme", "version", attr.MustParseVersion("1.2.0"))))
	assert.False(t, f.Matches(attr.Of("osgi.wiring.package", "com.acme", "version", attr.MustParseVersion("0.9.0"))))

	cn := MustParse("(cn=Bab*)")
	assert.True(t, cn.Matches(attr.Of("cn", "Babs Jensen")))
	assert.False(t, cn.Matches(attr.Of("cn", "Jensen")))
}

func TestMatches(t *testing.T) {
	attrs := attr.Of(
		"name", "Babs Jensen",
		"count", 5,
		"ratio", 2.5,
		"version", attr.MustParseVersion("1.2.3.beta"),
		"tags", []string{"alpha", "beta"},
		"sizes", mustList(t, attr.KindLong, attr.Long(1), attr.Long(10)),
		"empty", []string{},
	)

	tests := []struct {
		filter string
		want   bool
	}{
		{"(name=Babs Jensen)", true},
		{"(name=babs jensen)", false},
		{"(name~=babsjensen)", true},
		{"(name~= BABS  JENSEN )", true},
		{"(name=*Jen*)", true},
		{"(name=B*s*n)", true},
		{"(name=B*x*n)", false},
		{"(name=*sen)", true},
		{"(name=Babs*Jensen*)", true},
		{"(name=Babs Jensen*Jensen)", false},
		{"(name=*)", true},
		{"(missing=*)", false},
		{"(missing=x)", false},
		{"(!(missing=x))", true},
		{"(count=5)", true},
		{"(count= 5 )", true},
		{"(count>=5)", true},
		{"(count>5)", false},
		{"(count<6)", true},
		{"(count<=4)", false},
		{"(count=five)", false},
		{"(!(count=five))", true},
		{"(count=5*)", false},
		{"(count~=5)", true},
		{"(ratio>2)", true},
		{"(ratio<=2.5)", true},
		{"(ratio=abc)", false},
		{"(version>=1.2.3)", true},
		{"(version>1.2.3.beta)", false},
		{"(version<1.2.4)", true},
		{"(version=1.2.3.beta)", true},
		{"(version=1.2.3)", false},
		{"(version>=not-a-version)", false},
		{"(tags=beta)", true},
		{"(tags=gamma)", false},
		{"(tags=al*)", true},
		{"(tags=*)", true},
		{"(sizes>=10)", true},
		{"(sizes>10)", false},
		{"(sizes=1)", true},
		{"(empty=*)", true},
		{"(empty=x)", false},
		{"(&(count=5)(tags=alpha))", true},
		{"(&(count=5)(tags=gamma))", false},
		{"(|(count=6)(tags=alpha))", true},
		{"(|(count=6)(tags=gamma))", false},
		{"(!(&(count=5)(tags=gamma)))", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParse(tt.filter).Matches(attrs))
		})
	}
}

func TestMatches_MatchAll(t *testing.T) {
	assert.True(t, MatchAll().Matches(attr.Attributes{}))

	var nilFilter *Filter
	assert.True(t, nilFilter.Matches(attr.Of("a", "b")))
}

func TestString_Canonical(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"( & (a=1) ( b >=2) )", "(&(a=1)(b>=2))"},
		{`(cn=a\*b)`, `(cn=a\*b)`},
		{"(cn=*a**b*)", "(cn=*a*b*)"},
		{"(x=*)", "(x=*)"},
		{"(!(x<3))", "(!(x<3))"},
		{`(p=\(\)\\)`, `(p=\(\)\\)`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParse(tt.input).String())
		})
	}
}

func TestFromAttributes(t *testing.T) {
	f := FromAttributes(map[string]string{"b": "x*", "a": "1", "c": "*"})
	assert.Equal(t, "(&(a=1)(b=x*)(c=*))", f.String())

	assert.Same(t, MatchAll(), FromAttributes(nil))
	assert.Equal(t, "(a=1)", FromAttributes(map[string]string{"a": "1"}).String())
}

func mustList(t *testing.T, kind attr.Kind, items ...attr.Scalar) attr.List {
	t.Helper()
	l, err := attr.NewList(kind, items...)
	require.NoError(t, err)
	return l
}

var attrNames = []string{"a", "b", "c"}

func leafGen() *rapid.Generator[*Filter] {
	return rapid.Custom(func(t *rapid.T) *Filter {
		name := rapid.SampledFrom(attrNames).Draw(t, "attr")
		switch rapid.IntRange(0, 3).Draw(t, "leaf") {
		case 0:
			return Present(name)
		case 1:
			p := rapid.StringMatching(`[a-c()*\\]{1,3}`).Draw(t, "prefix")
			return Substring(name, p, "")
		default:
			op := rapid.SampledFrom([]Op{OpEqual, OpApprox, OpGreaterEqual, OpLessEqual, OpGreater, OpLess}).Draw(t, "op")
			return Compare(name, op, rapid.StringMatching(`[0-9a-c()*\\ ]{0,4}`).Draw(t, "value"))
		}
	})
}

func filterGen(depth int) *rapid.Generator[*Filter] {
	return rapid.Custom(func(t *rapid.T) *Filter {
		if depth == 0 || rapid.IntRange(0, 2).Draw(t, "kind") == 0 {
			return leafGen().Draw(t, "leaf")
		}
		children := rapid.SliceOfN(filterGen(depth-1), 1, 3).Draw(t, "children")
		switch rapid.IntRange(0, 2).Draw(t, "composite") {
		case 0:
			return &Filter{op: OpAnd, children: children}
		case 1:
			return &Filter{op: OpOr, children: children}
		default:
			return Not(children[0])
		}
	})
}

func attrsGen() *rapid.Generator[attr.Attributes] {
	return rapid.Custom(func(t *rapid.T) attr.Attributes {
		m := map[string]attr.Value{}
		for _, name := range attrNames {
			switch rapid.IntRange(0, 3).Draw(t, name) {
			case 0:
			case 1:
				m[name] = attr.String(rapid.StringMatching(`[a-c]{0,3}`).Draw(t, name+"-s"))
			case 2:
				m[name] = attr.Long(rapid.Int64Range(-5, 5).Draw(t, name+"-l"))
			default:
				m[name] = attr.Strings(rapid.SliceOfN(rapid.StringMatching(`[a-c0-9]{0,2}`), 0, 3).Draw(t, name+"-list")...)
			}
		}
		return attr.New(m)
	})
}

// TestProperty_Totality verifies that evaluation never panics and that the
// canonical rendering parses back to a filter with identical behavior.
func TestProperty_Totality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := filterGen(3).Draw(t, "filter")
		a := attrsGen().Draw(t, "attrs")

		reparsed, err := Parse(f.String())
		require.NoError(t, err, f.String())
		require.Equal(t, f.String(), reparsed.String())
		require.Equal(t, f.Matches(a), reparsed.Matches(a))
	})
}

// TestProperty_NotIsComplement verifies that negation inverts every result.
func TestProperty_NotIsComplement(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := filterGen(2).Draw(t, "filter")
		a := attrsGen().Draw(t, "attrs")
		require.Equal(t, !f.Matches(a), Not(f).Matches(a))
	})
}
