package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/httputil"
	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/CloudNativeWorks/ilog/internal/operations/release"
	"github.com/CloudNativeWorks/ilog/pkg/logger"
)

const (
	DefaultTimeout   = 10 * time.Minute
	defaultExtension = ".zip"
)

// Downloader streams release assets to a transient file and stages them
// under a deterministic name in the staging directory.
type Downloader struct {
	httpClient *http.Client
	appName    string
	tempDir    string
	timeout    time.Duration
	retry      httputil.RetryConfig
	userAgent  string
	perms      *common.PermissionManager
	now        func() time.Time
	logger     *logger.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.httpClient = c }
}

func WithTimeout(t time.Duration) Option {
	return func(d *Downloader) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithRetry(cfg httputil.RetryConfig) Option {
	return func(d *Downloader) { d.retry = cfg }
}

func WithUserAgent(ua string) Option {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithTempDir sets where transient files are written. Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(d *Downloader) { d.tempDir = dir }
}

// WithClock replaces time.Now for the staged file name.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) { d.now = now }
}

func NewDownloader(appName, stagingDir string, opts ...Option) *Downloader {
	log := logger.NewLogger("artifact-downloader")
	d := &Downloader{
		httpClient: &http.Client{},
		appName:    appName,
		timeout:    DefaultTimeout,
		retry:      httputil.DefaultRetryConfig(),
		userAgent:  "ilog-updater",
		perms:      common.NewPermissionManager(stagingDir, common.DirPerm, common.ArtifactPerm, log.Entry()),
		now:        time.Now,
		logger:     log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StagingDir returns the directory staged artifacts are placed in.
func (d *Downloader) StagingDir() string {
	return d.perms.BaseDir
}

// StagedName is the deterministic file name for an asset URL at time t.
func (d *Downloader) StagedName(assetURL string, t time.Time) string {
	return fmt.Sprintf("%s_update_%d%s", d.appName, t.Unix(), extensionOf(assetURL))
}

// Download fetches the asset and returns the staged path. Errors are of kind
// common.ErrNetwork, common.ErrFilesystem or common.ErrChecksum.
func (d *Downloader) Download(ctx context.Context, asset release.AssetRef) (string, error) {
	if strings.TrimSpace(asset.DownloadURL) == "" {
		return "", common.NewError(common.ErrNoDownloadURL, "download artifact", nil)
	}

	d.logger.WithFields(logger.Fields{
		"url":  asset.DownloadURL,
		"size": asset.Size,
	}).Info("Starting artifact download")

	transient, err := d.fetch(ctx, asset.DownloadURL)
	if err != nil {
		return "", err
	}

	if sum, ok := common.ParseDigest(asset.Digest); ok {
		if err := common.VerifyChecksum(d.logger.Entry(), transient, sum); err != nil {
			os.Remove(transient)
			return "", err
		}
	}

	staged, err := d.Stage(transient, asset.DownloadURL)
	if err != nil {
		os.Remove(transient)
		return "", err
	}

	d.logger.WithField("path", staged).Info("Artifact staged")
	return staged, nil
}

func (d *Downloader) fetch(ctx context.Context, assetURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("User-Agent", d.userAgent)
	headers.Set("Accept", "application/octet-stream")

	resp, err := httputil.Get(ctx, d.httpClient, assetURL, headers, d.retry)
	if err != nil {
		d.logger.WithError(err).Error("Failed to download artifact")
		return "", common.NetworkError("download artifact", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", common.NetworkError("download artifact", fmt.Errorf("download failed with status %d", resp.StatusCode))
	}

	tempFile, err := os.CreateTemp(d.tempDir, d.appName+"-download-*")
	if err != nil {
		return "", common.FilesystemError("create transient file", err)
	}

	written, err := common.CopyWithContext(ctx, tempFile, resp.Body, nil)
	closeErr := tempFile.Close()
	if err != nil {
		os.Remove(tempFile.Name())
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return "", common.FilesystemError("write transient file", err)
		}
		return "", common.NetworkError("download artifact", err)
	}
	if closeErr != nil {
		os.Remove(tempFile.Name())
		return "", common.FilesystemError("close transient file", closeErr)
	}

	d.logger.WithFields(logger.Fields{
		"bytes":     written,
		"transient": tempFile.Name(),
	}).Debug("Artifact download completed")

	return tempFile.Name(), nil
}

// Stage moves a downloaded transient file to its deterministic staged path,
// replacing a previous file of the same name, with mode 0644.
func (d *Downloader) Stage(transient, assetURL string) (string, error) {
	if _, err := os.Stat(transient); err != nil {
		return "", common.FilesystemError("stage artifact", fmt.Errorf("transient file %s is gone: %w", transient, err))
	}

	if err := d.perms.EnsureBaseDirectory(); err != nil {
		return "", err
	}

	staged := d.perms.Path(d.StagedName(assetURL, d.now()))
	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		return "", common.FilesystemError("remove previous staged artifact", err)
	}

	if err := common.MoveFile(d.logger.Entry(), transient, staged, common.ArtifactPerm); err != nil {
		return "", common.FilesystemError("stage artifact", err)
	}

	return staged, nil
}

// extensionOf returns the archive extension of the URL path, ".zip" when absent.
func extensionOf(assetURL string) string {
	p := assetURL
	if u, err := url.Parse(assetURL); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if strings.HasSuffix(base, ".tar.gz") {
		return ".tar.gz"
	}
	if ext := filepath.Ext(base); len(ext) > 1 && len(ext) <= 8 {
		return ext
	}
	return defaultExtension
}
