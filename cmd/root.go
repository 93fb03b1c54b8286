package cmd

import (
	"fmt"
	"os"

	"github.com/CloudNativeWorks/ilog/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	updated bool
	Cfg     *config.Config
	Version string
)

var RootCmd = &cobra.Command{
	Use:   "ilog",
	Short: "iLog - a personal value logger that keeps itself up to date",
	Long: `iLog records dated values in a local store and checks its release feed
for newer versions, installing them through a detached installer.`,
	SilenceUsage: true,
	// A bare invocation is how the installer relaunches the app.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp()
	},
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.ilog/config.yaml)")
	RootCmd.PersistentFlags().BoolVar(&updated, "updated", false, "set by the installer when it relaunches the app after an update")
}

func initConfig() {
	var err error

	Cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Configuration could not be loaded: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the command output
	if err := config.InitLogger(&Cfg.Logging, true); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Logger could not be initialized: %v\n", err)
		os.Exit(1)
	}
}
