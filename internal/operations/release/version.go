package release

import (
	"strconv"
	"strings"
)

// Version is a dotted numeric version. Missing or non-numeric components are 0.
type Version []uint64

// Normalize trims whitespace and a single leading v or V.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "v") || strings.HasPrefix(s, "V") {
		s = s[1:]
	}
	return s
}

// ParseVersion never fails: unparsable components become 0.
func ParseVersion(s string) Version {
	parts := strings.Split(Normalize(s), ".")
	v := make(Version, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			n = 0
		}
		v[i] = n
	}
	return v
}

// Compare returns -1, 0 or 1. The shorter version is padded with zeros, so
// 2.0 and 2.0.0 are equal.
func Compare(a, b Version) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var x, y uint64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// IsNewer reports whether candidate is strictly newer than current.
func IsNewer(current, candidate string) bool {
	return Compare(ParseVersion(candidate), ParseVersion(current)) > 0
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.FormatUint(n, 10)
	}
	return strings.Join(parts, ".")
}
