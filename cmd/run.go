package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/initializer"
	"github.com/CloudNativeWorks/ilog/internal/services"
	"github.com/CloudNativeWorks/ilog/internal/store"
	"github.com/CloudNativeWorks/ilog/pkg/helper"
	"github.com/CloudNativeWorks/ilog/pkg/logger"
	"github.com/spf13/cobra"
)

const (
	initialCheckBackoff = time.Minute
	maxCheckBackoff     = 30 * time.Minute
)

// SessionManager handles the lifecycle of a running app
type SessionManager struct {
	updater    *services.Updater
	kv         *store.KV
	entries    *store.EntryStore
	logger     *logger.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	sigChan    chan os.Signal
	installing atomic.Bool
	handedOff  atomic.Bool

	autoInstall  bool
	startInstall func()
}

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run iLog",
	Long:  `Run iLog in the foreground, checking the release feed in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp()
	},
}

func runApp() error {
	return NewSessionManager(logger.NewLogger("main")).Run()
}

// NewSessionManager creates a new session manager
func NewSessionManager(log *logger.Logger) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
	}
	m.startInstall = m.install
	return m
}

// Run starts the app and blocks until a signal arrives or an installer takes over
func (m *SessionManager) Run() error {
	if err := m.initialize(); err != nil {
		return fmt.Errorf("initialization failed: %v", err)
	}

	defer m.cleanup()

	go m.handleSignals()

	return m.mainLoop()
}

func (m *SessionManager) initialize() error {
	if Cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	init := initializer.NewInitializer(Cfg)
	if err := init.EnsureDirectories(); err != nil {
		return err
	}
	init.CleanupStale(updated)

	version := services.EffectiveVersion(Cfg, Version)
	if updated {
		if tail := init.ReportRelaunch(version); tail != "" {
			m.logger.Infof("Installer log:\n%s", tail)
		}
	}

	kv, err := store.OpenKV(m.ctx, Cfg.Store.Path)
	if err != nil {
		return err
	}
	entries, err := store.NewEntryStore(m.ctx, kv)
	if err != nil {
		kv.Close()
		return err
	}
	m.kv = kv
	m.entries = entries

	updater, err := services.BuildUpdater(Cfg, Version, services.WithTerminate(m.handOff))
	if err != nil {
		kv.Close()
		return err
	}
	m.updater = updater
	m.autoInstall = Cfg.Update.AutoInstall

	m.logger.WithFields(logger.Fields{
		"version": version,
		"entries": len(entries.List()),
		"store":   Cfg.Store.Path,
	}).Info("iLog started")

	signal.Notify(m.sigChan, syscall.SIGINT, syscall.SIGTERM)
	return nil
}

// handOff replaces the process exit once the installer has taken over
func (m *SessionManager) handOff() {
	m.handedOff.Store(true)
	m.cancel()
}

func (m *SessionManager) cleanup() {
	signal.Stop(m.sigChan)
	close(m.sigChan)
	m.cancel()

	if m.kv != nil {
		if err := m.kv.Close(); err != nil {
			m.logger.Warnf("Failed to close store: %v", err)
		}
	}

	if m.handedOff.Load() {
		m.logger.Info("Exited for the installer")
		return
	}
	m.logger.Info("Cleanup completed")
}

func (m *SessionManager) handleSignals() {
	for {
		select {
		case sig, ok := <-m.sigChan:
			if !ok {
				return
			}
			m.logger.Warnf("Received signal %s, initiating shutdown...", sig)
			m.cancel()
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// mainLoop schedules update checks and reacts to update state changes
func (m *SessionManager) mainLoop() error {
	states, unsubscribe := m.updater.State().Subscribe()
	defer unsubscribe()

	var checkTimer <-chan time.Time
	if Cfg.Update.AutoCheck {
		checkTimer = time.After(Cfg.Update.CheckDelay)
	}

	results := make(chan error, 1)
	backoff := initialCheckBackoff

	for {
		select {
		case <-m.ctx.Done():
			return nil

		case <-checkTimer:
			checkTimer = nil
			go m.check(results)

		case err := <-results:
			var next time.Duration
			next, backoff = nextCheckDelay(err, Cfg.Update.CheckInterval, backoff)
			if err != nil && !errors.Is(err, services.ErrUpdateInProgress) {
				m.logger.Infof("Waiting %v before next update check", next)
			}
			if next > 0 {
				checkTimer = time.After(next)
			}

		case st := <-states:
			m.onStateChange(st)
		}
	}
}

// nextCheckDelay returns the wait before the next update check and the backoff
// to carry forward, given the outcome of the last check. A zero wait means no
// further checks.
func nextCheckDelay(err error, interval, backoff time.Duration) (time.Duration, time.Duration) {
	if backoff <= 0 {
		backoff = initialCheckBackoff
	}

	switch {
	case err == nil:
		return interval, initialCheckBackoff
	case errors.Is(err, services.ErrUpdateInProgress):
		return interval, backoff
	}

	next := backoff
	backoff *= 2
	if backoff > maxCheckBackoff {
		backoff = maxCheckBackoff
	}
	return next, backoff
}

func (m *SessionManager) check(results chan<- error) {
	defer helper.RecoverPanic(m.logger, "update-check")

	var err error
	defer func() { results <- err }()

	_, err = m.updater.CheckForUpdates(m.ctx)
}

func (m *SessionManager) onStateChange(st services.State) {
	fields := logger.Fields{"phase": st.Phase.String()}
	if st.LatestVersion != "" {
		fields["latest"] = st.LatestVersion
	}

	switch st.Phase {
	case services.PhaseFailed:
		m.logger.WithFields(fields).WithError(st.LastError).Warn("Update state changed")
	case services.PhaseAvailable:
		m.logger.WithFields(fields).Info("Update state changed")
		if !m.autoInstall {
			m.logger.Infof("iLog %s is available, run `ilog update install` to install it", st.LatestVersion)
			return
		}
		if m.installing.CompareAndSwap(false, true) {
			go m.startInstall()
		}
	default:
		m.logger.WithFields(fields).Debug("Update state changed")
	}
}

func (m *SessionManager) install() {
	defer helper.RecoverPanic(m.logger, "update-install")

	m.updater.DownloadAndInstallUpdate(m.ctx, func(ok bool, err error) {
		if !ok {
			m.installing.Store(false)
			m.logger.WithError(err).Error("Automatic update failed")
		}
	})
}

func init() {
	RootCmd.AddCommand(RunCmd)
}
