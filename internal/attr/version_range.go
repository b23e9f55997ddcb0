package attr

import (
	"fmt"
	"strings"
)

// VersionRange is an OSGi version interval. A nil Ceiling means unbounded.
type VersionRange struct {
	Floor       Version
	OpenFloor   bool
	Ceiling     *Version
	OpenCeiling bool
}

// ParseVersionRange parses "[1.0,2.0)", "(1.0,2.0]" or a bare version,
// which means "at least that version".
func ParseVersionRange(s string) (VersionRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VersionRange{}, nil
	}
	if s[0] != '[' && s[0] != '(' {
		v, err := ParseVersion(s)
		if err != nil {
			return VersionRange{}, err
		}
		return VersionRange{Floor: v}, nil
	}

	last := s[len(s)-1]
	if last != ']' && last != ')' {
		return VersionRange{}, fmt.Errorf("invalid version range %q: missing closing bracket", s)
	}
	lo, hi, ok := strings.Cut(s[1:len(s)-1], ",")
	if !ok {
		return VersionRange{}, fmt.Errorf("invalid version range %q: missing comma", s)
	}
	floor, err := ParseVersion(lo)
	if err != nil {
		return VersionRange{}, fmt.Errorf("invalid version range %q: %w", s, err)
	}
	ceiling, err := ParseVersion(hi)
	if err != nil {
		return VersionRange{}, fmt.Errorf("invalid version range %q: %w", s, err)
	}
	return VersionRange{
		Floor:       floor,
		OpenFloor:   s[0] == '(',
		Ceiling:     &ceiling,
		OpenCeiling: last == ')',
	}, nil
}

// Includes reports whether v lies within the range.
func (r VersionRange) Includes(v Version) bool {
	c := r.Floor.Compare(v)
	if c > 0 || (c == 0 && r.OpenFloor) {
		return false
	}
	if r.Ceiling == nil {
		return true
	}
	c = v.Compare(*r.Ceiling)
	return c < 0 || (c == 0 && !r.OpenCeiling)
}

func (r VersionRange) String() string {
	if r.Ceiling == nil {
		return r.Floor.String()
	}
	open, closing := "[", "]"
	if r.OpenFloor {
		open = "("
	}
	if r.OpenCeiling {
		closing = ")"
	}
	return open + r.Floor.String() + "," + r.Ceiling.String() + closing
}
