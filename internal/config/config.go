package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CloudNativeWorks/ilog/pkg/logger"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	installIDFile = ".ilog_install_id"
	envPrefix     = "ILOG"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Download  DownloadConfig  `mapstructure:"download"`
	Installer InstallerConfig `mapstructure:"installer"`
	Update    UpdateConfig    `mapstructure:"update"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
}

// AppConfig describes the installed application being kept up to date
type AppConfig struct {
	Name          string `mapstructure:"name"`
	Version       string `mapstructure:"version"` // overrides the build version when set
	ProcessName   string `mapstructure:"process_name"`
	InstallDir    string `mapstructure:"install_dir"`
	ExecutableDir string `mapstructure:"executable_dir"`
	RelaunchFlag  string `mapstructure:"relaunch_flag"`
	DataDir       string `mapstructure:"data_dir"`
}

// FeedConfig holds release feed configuration
type FeedConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Owner            string        `mapstructure:"owner"`
	Repo             string        `mapstructure:"repo"`
	Token            string        `mapstructure:"token"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	MinCheckInterval time.Duration `mapstructure:"min_check_interval"`
	AssetPolicy      string        `mapstructure:"asset_policy"`
	AssetPattern     string        `mapstructure:"asset_pattern"`
}

// DownloadConfig holds artifact download configuration
type DownloadConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	StagingDir string        `mapstructure:"staging_dir"`
}

// InstallerConfig holds hand-off configuration for the detached installer
type InstallerConfig struct {
	TmpRoot         string        `mapstructure:"tmp_root"`
	Shell           string        `mapstructure:"shell"`
	AckTimeout      time.Duration `mapstructure:"ack_timeout"`
	ExitDelay       time.Duration `mapstructure:"exit_delay"`
	TerminateWait   time.Duration `mapstructure:"terminate_wait"`
	SigningIdentity string        `mapstructure:"signing_identity"`
}

// UpdateConfig controls when the run loop checks and installs
type UpdateConfig struct {
	AutoCheck     bool          `mapstructure:"auto_check"`
	CheckDelay    time.Duration `mapstructure:"check_delay"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	AutoInstall   bool          `mapstructure:"auto_install"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// StoreConfig holds the local entry store location
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// TargetAppPath returns the installed bundle path, e.g. /Applications/iLog.app
func (c *Config) TargetAppPath() string {
	return filepath.Join(c.App.InstallDir, c.App.Name+".app")
}

// GetStoredInstallationID reads the installation ID from the data directory,
// creating one on first use.
func GetStoredInstallationID(dataDir string) (string, error) {
	idPath := filepath.Join(dataDir, installIDFile)
	if id, err := os.ReadFile(idPath); err == nil {
		return strings.TrimSpace(string(id)), nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %v", err)
	}

	newID := uuid.New().String()
	if err := os.WriteFile(idPath, []byte(newID), 0600); err != nil {
		return "", fmt.Errorf("failed to save installation ID: %v", err)
	}

	return newID, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "iLog")
	v.SetDefault("app.install_dir", "/Applications")
	v.SetDefault("app.executable_dir", "Contents/MacOS")
	v.SetDefault("app.relaunch_flag", "--updated")
	v.SetDefault("app.version", "")
	v.SetDefault("app.process_name", "")
	v.SetDefault("app.data_dir", "")

	v.SetDefault("feed.base_url", "https://api.github.com")
	v.SetDefault("feed.owner", "TBelteshazzarT")
	v.SetDefault("feed.repo", "iLog")
	v.SetDefault("feed.timeout", "20s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.min_check_interval", "1m")
	v.SetDefault("feed.asset_policy", "first")
	v.SetDefault("feed.asset_pattern", "")
	v.SetDefault("feed.token", "")

	v.SetDefault("download.timeout", "10m")
	v.SetDefault("download.staging_dir", "")
	v.SetDefault("installer.tmp_root", "")

	v.SetDefault("installer.shell", "/bin/sh")
	v.SetDefault("installer.ack_timeout", "15s")
	v.SetDefault("installer.exit_delay", "500ms")
	v.SetDefault("installer.terminate_wait", "2s")
	v.SetDefault("installer.signing_identity", "-")

	v.SetDefault("update.auto_check", true)
	v.SetDefault("update.check_delay", "2s")
	v.SetDefault("update.check_interval", "6h")
	v.SetDefault("update.auto_install", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("store.path", "")
}

// Load reads configuration from file, environment and defaults without
// touching the logger.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ilog")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	return &config, nil
}

// InitLogger initializes the logger with the provided configuration
func InitLogger(cfg *LoggingConfig, quiet bool) error {
	return logger.Init(logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Module:     "main",
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Quiet:      quiet,
	})
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	_ = config.normalize()
	return &config
}

// normalize fills paths derived from the data directory and validates enums.
func (c *Config) normalize() error {
	if c.App.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		c.App.DataDir = filepath.Join(home, ".ilog")
	}
	if c.App.ProcessName == "" {
		c.App.ProcessName = c.App.Name
	}
	if c.Download.StagingDir == "" {
		c.Download.StagingDir = filepath.Join(c.App.DataDir, "updates")
	}
	if c.Installer.TmpRoot == "" {
		c.Installer.TmpRoot = os.TempDir()
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.App.DataDir, "logs", "ilog.log")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.App.DataDir, "ilog.db")
	}

	if c.Feed.MaxRetries < 0 {
		return fmt.Errorf("feed.max_retries must not be negative, got %d", c.Feed.MaxRetries)
	}

	switch c.Feed.AssetPolicy {
	case "first", "pattern":
	default:
		return fmt.Errorf("unknown asset policy %q (want first or pattern)", c.Feed.AssetPolicy)
	}
	if c.Feed.AssetPolicy == "pattern" && c.Feed.AssetPattern == "" {
		return fmt.Errorf("asset policy pattern requires feed.asset_pattern")
	}

	return nil
}
