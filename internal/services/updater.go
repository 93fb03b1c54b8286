package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/CloudNativeWorks/ilog/internal/operations/installer"
	"github.com/CloudNativeWorks/ilog/internal/operations/release"
	"github.com/CloudNativeWorks/ilog/pkg/helper"
	"github.com/CloudNativeWorks/ilog/pkg/logger"
	"golang.org/x/time/rate"
)

var (
	ErrUpdateInProgress = errors.New("an update is already in progress")
	ErrCheckThrottled   = errors.New("update check throttled, try again later")
)

// ReleaseFeed reports the latest published release.
type ReleaseFeed interface {
	FetchLatestRelease(ctx context.Context) (*release.ReleaseInfo, error)
}

// ArtifactStager downloads an asset to a staged local file.
type ArtifactStager interface {
	Download(ctx context.Context, asset release.AssetRef) (string, error)
}

// InstallLauncher hands a staged artifact to the detached installer.
type InstallLauncher interface {
	Handoff(ctx context.Context, req *installer.InstallRequest) (*installer.Handoff, error)
}

// UpdaterConfig holds the values the pipeline needs besides its collaborators.
type UpdaterConfig struct {
	CurrentVersion   string
	Install          installer.Settings
	Selector         release.AssetSelector
	MinCheckInterval time.Duration
	ExitDelay        time.Duration
	LockPath         string
}

// CheckResult is the outcome of one update check.
type CheckResult struct {
	Release   *release.ReleaseInfo
	Available bool
	Asset     release.AssetRef
	HasAsset  bool
}

type pendingUpdate struct {
	release  *release.ReleaseInfo
	asset    release.AssetRef
	hasAsset bool
}

// Updater runs check, download and hand-off. At most one of them runs at a
// time in a process, and at most one download or hand-off across processes.
type Updater struct {
	cfg        UpdaterConfig
	feed       ReleaseFeed
	downloader ArtifactStager
	installer  InstallLauncher
	state      *StateStore
	limiter    *rate.Limiter
	terminate  func()
	logger     *logger.Logger

	guard   sync.Mutex
	mu      sync.Mutex
	pending *pendingUpdate
}

type UpdaterOption func(*Updater)

// WithTerminate replaces os.Exit(0) as the post hand-off exit.
func WithTerminate(fn func()) UpdaterOption {
	return func(u *Updater) { u.terminate = fn }
}

func NewUpdater(cfg UpdaterConfig, feed ReleaseFeed, downloader ArtifactStager, launcher InstallLauncher, opts ...UpdaterOption) *Updater {
	if cfg.Selector == nil {
		cfg.Selector = release.FirstAsset{}
	}

	limit := rate.Inf
	if cfg.MinCheckInterval > 0 {
		limit = rate.Every(cfg.MinCheckInterval)
	}

	u := &Updater{
		cfg:        cfg,
		feed:       feed,
		downloader: downloader,
		installer:  launcher,
		state:      NewStateStore(),
		limiter:    rate.NewLimiter(limit, 1),
		terminate:  func() { os.Exit(0) },
		logger:     logger.NewLogger("updater"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// State exposes the observable update state.
func (u *Updater) State() *StateStore {
	return u.state
}

// CurrentVersion is the version this process runs.
func (u *Updater) CurrentVersion() string {
	return u.cfg.CurrentVersion
}

// CheckForUpdates asks the feed for the latest release and moves the state to
// Available when it is newer than the running version, back to Idle otherwise.
func (u *Updater) CheckForUpdates(ctx context.Context) (*CheckResult, error) {
	if !u.guard.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer u.guard.Unlock()

	if !u.limiter.Allow() {
		return nil, ErrCheckThrottled
	}

	u.state.update(func(s *State) {
		s.Phase = PhaseChecking
		s.LastError = nil
	})

	info, err := u.feed.FetchLatestRelease(ctx)
	if err != nil {
		u.logger.WithError(err).Warn("Update check failed")
		u.fail(err)
		return nil, err
	}

	latest := info.Version()
	result := &CheckResult{Release: info}

	if !release.IsNewer(u.cfg.CurrentVersion, latest) {
		u.setPending(nil)
		u.state.update(func(s *State) {
			s.Phase = PhaseIdle
			s.LatestVersion = ""
			s.ReleaseNotes = ""
		})
		u.logger.WithFields(logger.Fields{
			"current": u.cfg.CurrentVersion,
			"latest":  latest,
		}).Info("Application is up to date")
		return result, nil
	}

	result.Available = true
	result.Asset, result.HasAsset = u.cfg.Selector.Select(info.Assets)
	u.setPending(&pendingUpdate{release: info, asset: result.Asset, hasAsset: result.HasAsset})

	u.state.update(func(s *State) {
		s.Phase = PhaseAvailable
		s.LatestVersion = latest
		s.ReleaseNotes = info.Notes
		s.StagedArtifactPath = ""
	})

	u.logger.WithFields(logger.Fields{
		"current": u.cfg.CurrentVersion,
		"latest":  latest,
		"asset":   result.Asset.Name,
		"policy":  u.cfg.Selector.String(),
	}).Info("Update available")
	return result, nil
}

// InstallUpdate downloads the release found by the last check and hands it to
// the installer. It does not exit the process.
func (u *Updater) InstallUpdate(ctx context.Context) (*installer.Handoff, error) {
	if !u.guard.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer u.guard.Unlock()

	p := u.getPending()
	if p == nil || !p.hasAsset || p.asset.DownloadURL == "" {
		err := common.NewError(common.ErrNoDownloadURL, "install update", nil)
		u.fail(err)
		return nil, err
	}

	lock, err := acquireUpdateLock(u.cfg.LockPath)
	if err != nil {
		u.fail(err)
		return nil, err
	}

	handoff, err := u.downloadAndHandoff(ctx, p)
	if err != nil {
		lock.Release()
		u.fail(err)
		return nil, err
	}

	// The lock stays held until this process exits.
	return handoff, nil
}

func (u *Updater) downloadAndHandoff(ctx context.Context, p *pendingUpdate) (*installer.Handoff, error) {
	u.state.update(func(s *State) {
		s.Phase = PhaseDownloading
		s.LastError = nil
	})

	staged, err := u.downloader.Download(ctx, p.asset)
	if err != nil {
		return nil, err
	}

	req, err := installer.NewRequest(u.cfg.Install, p.release.Version(), p.asset.DownloadURL, staged)
	if err != nil {
		return nil, err
	}

	u.state.update(func(s *State) {
		s.Phase = PhaseInstalling
		s.StagedArtifactPath = staged
	})

	return u.installer.Handoff(ctx, req)
}

// DownloadAndInstallUpdate runs InstallUpdate and reports the outcome to
// onComplete. After a successful hand-off the process exits once ExitDelay
// has passed.
func (u *Updater) DownloadAndInstallUpdate(ctx context.Context, onComplete func(ok bool, err error)) {
	handoff, err := u.InstallUpdate(ctx)
	if err != nil {
		u.logger.WithError(err).Error("Update failed before hand-off")
		if onComplete != nil {
			onComplete(false, err)
		}
		return
	}

	u.logger.WithFields(logger.Fields{
		"install_id": handoff.ID,
		"pid":        handoff.PID,
		"log":        handoff.LogPath,
	}).Info("Installer took over, exiting")

	if onComplete != nil {
		onComplete(true, nil)
	}

	time.AfterFunc(u.cfg.ExitDelay, func() {
		defer helper.RecoverPanic(u.logger, "updater-terminate")
		u.terminate()
	})
}

func (u *Updater) fail(err error) {
	u.state.update(func(s *State) {
		s.Phase = PhaseFailed
		s.LastError = err
	})
}

func (u *Updater) setPending(p *pendingUpdate) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = p
}

func (u *Updater) getPending() *pendingUpdate {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pending
}
