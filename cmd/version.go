package cmd

import (
	"fmt"
	"runtime"

	"github.com/CloudNativeWorks/ilog/internal/services"
	"github.com/spf13/cobra"
)

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the running version and, when overridden in config, the build version.`,
	Run: func(cmd *cobra.Command, args []string) {
		effective := services.EffectiveVersion(Cfg, Version)
		fmt.Printf("Version: %s\n", effective)
		if effective != Version {
			fmt.Printf("Build:   %s\n", Version)
		}
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
