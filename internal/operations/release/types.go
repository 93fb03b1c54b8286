package release

// ReleaseInfo is the latest published release as reported by the feed.
type ReleaseInfo struct {
	Tag    string     `json:"tag" yaml:"tag"`
	Name   string     `json:"name" yaml:"name"`
	Notes  string     `json:"notes" yaml:"notes"`
	Assets []AssetRef `json:"assets" yaml:"assets"`
}

// AssetRef is a downloadable file attached to a release.
type AssetRef struct {
	Name        string `json:"name" yaml:"name"`
	DownloadURL string `json:"download_url" yaml:"download_url"`
	Size        int64  `json:"size" yaml:"size"`
	Digest      string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// Version returns the tag without its leading v.
func (r *ReleaseInfo) Version() string {
	return Normalize(r.Tag)
}

// githubRelease mirrors the fields of the releases API we consume.
type githubRelease struct {
	TagName string        `json:"tag_name"`
	Name    string        `json:"name"`
	Body    string        `json:"body"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	Digest             string `json:"digest"`
}

func (g githubRelease) toReleaseInfo() *ReleaseInfo {
	info := &ReleaseInfo{
		Tag:    g.TagName,
		Name:   g.Name,
		Notes:  g.Body,
		Assets: make([]AssetRef, 0, len(g.Assets)),
	}
	for _, a := range g.Assets {
		info.Assets = append(info.Assets, AssetRef{
			Name:        a.Name,
			DownloadURL: a.BrowserDownloadURL,
			Size:        a.Size,
			Digest:      a.Digest,
		})
	}
	return info
}
