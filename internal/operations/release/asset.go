package release

import (
	"fmt"
	"regexp"
)

// AssetSelector picks the asset to install from a release.
type AssetSelector interface {
	Select(assets []AssetRef) (AssetRef, bool)
	String() string
}

// FirstAsset takes the first listed asset.
type FirstAsset struct{}

func (FirstAsset) Select(assets []AssetRef) (AssetRef, bool) {
	if len(assets) == 0 {
		return AssetRef{}, false
	}
	return assets[0], true
}

func (FirstAsset) String() string { return "first" }

// PatternAsset takes the first asset whose name matches the expression.
type PatternAsset struct {
	re *regexp.Regexp
}

func (p PatternAsset) Select(assets []AssetRef) (AssetRef, bool) {
	for _, a := range assets {
		if p.re.MatchString(a.Name) {
			return a, true
		}
	}
	return AssetRef{}, false
}

func (p PatternAsset) String() string { return "pattern:" + p.re.String() }

// NewAssetSelector builds a selector for the configured policy name.
func NewAssetSelector(policy, pattern string) (AssetSelector, error) {
	switch policy {
	case "", "first":
		return FirstAsset{}, nil
	case "pattern":
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid asset pattern %q: %w", pattern, err)
		}
		return PatternAsset{re: re}, nil
	default:
		return nil, fmt.Errorf("unknown asset policy %q", policy)
	}
}
