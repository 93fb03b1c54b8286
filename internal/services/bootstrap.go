package services

import (
	"fmt"
	"path/filepath"

	"github.com/CloudNativeWorks/ilog/internal/cmdrunner"
	"github.com/CloudNativeWorks/ilog/internal/config"
	"github.com/CloudNativeWorks/ilog/internal/httputil"
	"github.com/CloudNativeWorks/ilog/internal/operations/artifact"
	"github.com/CloudNativeWorks/ilog/internal/operations/installer"
	"github.com/CloudNativeWorks/ilog/internal/operations/procs"
	"github.com/CloudNativeWorks/ilog/internal/operations/release"
)

// EffectiveVersion prefers the configured version over the build version.
func EffectiveVersion(cfg *config.Config, buildVersion string) string {
	if cfg.App.Version != "" {
		return cfg.App.Version
	}
	return buildVersion
}

// UserAgent identifies this installation to the release host.
func UserAgent(cfg *config.Config, version string) string {
	ua := fmt.Sprintf("%s-updater/%s", cfg.App.Name, release.Normalize(version))
	if id, err := config.GetStoredInstallationID(cfg.App.DataDir); err == nil {
		ua += " (" + id + ")"
	}
	return ua
}

// BuildUpdater wires the feed client, downloader and installer from configuration.
func BuildUpdater(cfg *config.Config, buildVersion string, opts ...UpdaterOption) (*Updater, error) {
	selector, err := release.NewAssetSelector(cfg.Feed.AssetPolicy, cfg.Feed.AssetPattern)
	if err != nil {
		return nil, err
	}

	version := EffectiveVersion(cfg, buildVersion)
	userAgent := UserAgent(cfg, version)

	retry := httputil.DefaultRetryConfig()
	retry.MaxRetries = cfg.Feed.MaxRetries

	feed := release.NewFeedClient(cfg.Feed.Owner, cfg.Feed.Repo,
		release.WithBaseURL(cfg.Feed.BaseURL),
		release.WithToken(cfg.Feed.Token),
		release.WithTimeout(cfg.Feed.Timeout),
		release.WithRetry(retry),
		release.WithUserAgent(userAgent),
	)

	downloader := artifact.NewDownloader(cfg.App.Name, cfg.Download.StagingDir,
		artifact.WithTimeout(cfg.Download.Timeout),
		artifact.WithRetry(retry),
		artifact.WithUserAgent(userAgent),
	)

	orchestrator := installer.NewOrchestrator(cmdrunner.NewCommandsRunner(),
		installer.WithShell(cfg.Installer.Shell),
		installer.WithAckTimeout(cfg.Installer.AckTimeout),
		installer.WithInstanceFinder(procs.NewFinder()),
	)

	u := NewUpdater(UpdaterConfig{
		CurrentVersion: version,
		Install: installer.Settings{
			AppName:         cfg.App.Name,
			ProcessName:     cfg.App.ProcessName,
			TargetAppPath:   cfg.TargetAppPath(),
			ExecutableDir:   cfg.App.ExecutableDir,
			RelaunchFlag:    cfg.App.RelaunchFlag,
			SigningIdentity: cfg.Installer.SigningIdentity,
			TmpRoot:         cfg.Installer.TmpRoot,
			TerminateWait:   cfg.Installer.TerminateWait,
		},
		Selector:         selector,
		MinCheckInterval: cfg.Feed.MinCheckInterval,
		ExitDelay:        cfg.Installer.ExitDelay,
		LockPath:         filepath.Join(cfg.Download.StagingDir, ".update.lock"),
	}, feed, downloader, orchestrator, opts...)
	return u, nil
}
