package attr

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an OSGi version: major.minor.micro.qualifier.
// Missing numeric components are zero and the qualifier defaults to empty.
// Version values are comparable and may be used as map keys.
type Version struct {
	Major     int
	Minor     int
	Micro     int
	Qualifier string
}

// EmptyVersion is 0.0.0.
var EmptyVersion = Version{}

// ParseVersion parses s as an OSGi version. Surrounding whitespace is ignored
// and an empty string yields EmptyVersion.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EmptyVersion, nil
	}

	parts := strings.SplitN(s, ".", 4)
	var v Version
	nums := []*int{&v.Major, &v.Minor, &v.Micro}
	for i, p := range parts {
		if i == 3 {
			if !validQualifier(p) {
				return EmptyVersion, fmt.Errorf("invalid version %q: bad qualifier %q", s, p)
			}
			v.Qualifier = p
			break
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || p == "" || strings.HasPrefix(p, "+") {
			return EmptyVersion, fmt.Errorf("invalid version %q: component %q is not a non-negative integer", s, p)
		}
		*nums[i] = n
	}
	return v, nil
}

// MustParseVersion is ParseVersion that panics on error. Intended for tests
// and package-level literals.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func validQualifier(q string) bool {
	if q == "" {
		return false
	}
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Compare returns -1, 0 or +1. Numeric components are compared first, then
// the qualifier lexically, so 1.0.0 sorts before 1.0.0.beta.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	case v.Micro != o.Micro:
		return cmpInt(v.Micro, o.Micro)
	}
	return strings.Compare(v.Qualifier, o.Qualifier)
}

func (v Version) String() string {
	s := strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Micro)
	if v.Qualifier != "" {
		s += "." + v.Qualifier
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	return 1
}
