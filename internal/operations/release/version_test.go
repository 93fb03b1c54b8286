package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		current   string
		candidate string
		want      bool
	}{
		{"1.2.0", "1.10.0", true},
		{"2.0", "2.0.0", false},
		{"2.0.0", "2.0", false},
		{"v1.5", "1.6", true},
		{"1.6", "v1.5", false},
		{"2.3.0", "v2.3.1", true},
		{"2.3.0", "2.3.0", false},
		{"V3", "v3.0.1", true},
		{"1.0.0", "1.0.0-beta", false},
		{"", "0.0.1", true},
		{" 1.9 ", "1.10", true},
		{"10.0", "9.99.99", false},
	}

	for _, tt := range tests {
		t.Run(tt.current+"->"+tt.candidate, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNewer(tt.current, tt.candidate))
		})
	}
}

func TestIsNewer_IrreflexiveAndAsymmetric(t *testing.T) {
	versions := []string{"0", "1", "1.0.1", "1.2", "1.10", "v2", "2.0.0.1", "abc", "3.x.4"}

	for _, a := range versions {
		assert.False(t, IsNewer(a, a), a)
		for _, b := range versions {
			if Compare(ParseVersion(a), ParseVersion(b)) == 0 {
				assert.False(t, IsNewer(a, b))
				assert.False(t, IsNewer(b, a))
				continue
			}
			assert.NotEqual(t, IsNewer(a, b), IsNewer(b, a), "%s vs %s", a, b)
		}
	}
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, Version{1, 2, 3}, ParseVersion("v1.2.3"))
	assert.Equal(t, Version{3, 0, 4}, ParseVersion("3.x.4"))
	assert.Equal(t, Version{0}, ParseVersion(""))
	assert.Equal(t, "1.10.0", ParseVersion("V1.10.0").String())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "2.3.1", Normalize(" v2.3.1 "))
	assert.Equal(t, "2.3.1", Normalize("V2.3.1"))
	assert.Equal(t, "v1", Normalize("vv1"))
}
