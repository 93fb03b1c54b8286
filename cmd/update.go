package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/initializer"
	"github.com/CloudNativeWorks/ilog/internal/operations/installer"
	"github.com/CloudNativeWorks/ilog/internal/operations/procs"
	"github.com/CloudNativeWorks/ilog/internal/services"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	assumeYes   bool
	statusCheck bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and install new iLog releases",
}

var updateCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the release feed for a newer version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		u, err := services.BuildUpdater(Cfg, Version)
		if err != nil {
			return err
		}

		res, err := u.CheckForUpdates(ctx)
		if err != nil {
			return err
		}
		printCheckResult(u.CurrentVersion(), res)
		return nil
	},
}

var updateInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the latest release and hand it to the installer",
	Long: `Download the latest release, start the detached installer and exit.
The installer replaces the installed bundle and relaunches iLog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		exited := make(chan struct{})
		u, err := services.BuildUpdater(Cfg, Version, services.WithTerminate(func() { close(exited) }))
		if err != nil {
			return err
		}

		res, err := u.CheckForUpdates(ctx)
		if err != nil {
			return err
		}
		printCheckResult(u.CurrentVersion(), res)
		if !res.Available {
			return nil
		}

		if !assumeYes && !confirm(fmt.Sprintf("Install iLog %s now? iLog will quit and relaunch.", res.Release.Version())) {
			fmt.Println("Update cancelled")
			return nil
		}

		var installErr error
		u.DownloadAndInstallUpdate(ctx, func(ok bool, err error) {
			installErr = err
		})
		if installErr != nil {
			return installErr
		}

		fmt.Printf("Installer started, progress is logged to %s\n",
			installer.DetailedLogPath(Cfg.Installer.TmpRoot, Cfg.App.Name))
		<-exited
		return nil
	},
}

type stagedArtifact struct {
	Path     string    `yaml:"path"`
	Size     int64     `yaml:"size"`
	Modified time.Time `yaml:"modified"`
}

type updateStatus struct {
	CurrentVersion   string           `yaml:"current_version"`
	Feed             string           `yaml:"feed"`
	State            services.State   `yaml:"state"`
	LastError        string           `yaml:"last_error,omitempty"`
	StagingDir       string           `yaml:"staging_dir"`
	Staged           []stagedArtifact `yaml:"staged_artifacts"`
	RunningInstances []int32          `yaml:"running_instances"`
	InstallerLog     string           `yaml:"installer_log"`
	InstallerLogTail string           `yaml:"installer_log_tail,omitempty"`
}

var updateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show update state, staged artifacts and the last installer output",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		u, err := services.BuildUpdater(Cfg, Version)
		if err != nil {
			return err
		}

		if statusCheck {
			// the failure is reported through the state
			_, _ = u.CheckForUpdates(ctx)
		}

		status := updateStatus{
			CurrentVersion:   u.CurrentVersion(),
			Feed:             strings.TrimRight(Cfg.Feed.BaseURL, "/") + "/repos/" + Cfg.Feed.Owner + "/" + Cfg.Feed.Repo,
			State:            u.State().Snapshot(),
			StagingDir:       Cfg.Download.StagingDir,
			Staged:           listStaged(Cfg.Download.StagingDir, Cfg.App.Name+"_update_"),
			InstallerLog:     installer.DetailedLogPath(Cfg.Installer.TmpRoot, Cfg.App.Name),
			InstallerLogTail: initializer.NewInitializer(Cfg).InstallerLogTail(10),
		}
		if status.State.LastError != nil {
			status.LastError = status.State.LastError.Error()
		}

		pids, err := procs.NewFinder().FindByName(ctx, Cfg.App.ProcessName)
		if err == nil {
			status.RunningInstances = pids
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(status)
	},
}

func printCheckResult(current string, res *services.CheckResult) {
	latest := res.Release.Version()
	if !res.Available {
		fmt.Printf("iLog is up to date (current %s, latest %s)\n", current, latest)
		return
	}

	fmt.Printf("Update available: %s -> %s\n", current, latest)
	if res.HasAsset {
		fmt.Printf("Asset: %s\n", res.Asset.Name)
	} else {
		fmt.Println("Asset: none matches the configured asset policy")
	}
	if notes := strings.TrimSpace(res.Release.Notes); notes != "" {
		fmt.Printf("\n%s\n", notes)
	}
}

func listStaged(dir, prefix string) []stagedArtifact {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var staged []stagedArtifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		staged = append(staged, stagedArtifact{
			Path:     filepath.Join(dir, e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i].Modified.After(staged[j].Modified) })
	return staged
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func init() {
	updateInstallCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "install without asking for confirmation")
	updateStatusCmd.Flags().BoolVar(&statusCheck, "check", false, "query the release feed before reporting")

	updateCmd.AddCommand(updateCheckCmd, updateInstallCmd, updateStatusCmd)
	RootCmd.AddCommand(updateCmd)
}
