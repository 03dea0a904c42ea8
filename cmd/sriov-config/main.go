package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sriov-config/internal/config"
	"sriov-config/pkg"
)

var (
	// Global flags
	rootDir    string
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sriov-config",
	Short: "Provision SR-IOV PFs and VFs from a declarative config",
	Long: `sriov-config applies the SR-IOV desired state of a host.

For every PF it keeps the persistent udev rules up to date, sets the
number of VFs and waits for the VFs to appear. Then it applies the
link attributes of every VF (mac, vlan, rates, spoofchk, state, trust).

Examples:
  sriov-config apply                               # Apply the default config
  sriov-config apply --config ./sriov_config.yaml  # Apply another config file
  sriov-config show                                # Print the desired state
  sriov-config cleanup                             # Remove legacy allocate_vfs files`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := pkg.SetLogLevelFromString(logLevel); err != nil {
			return fmt.Errorf("invalid log level: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Prefix for every host path, for chroot or test setups")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "SR-IOV desired state file (default "+config.DefaultPaths().SRIOVConfigFile+" under --root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultSettings().LogLevel, "Log level: debug, info, warn, error")
}

// hostPaths returns the deployment paths adjusted by the global flags
func hostPaths() config.Paths {
	p := config.DefaultPaths()
	if rootDir != "" {
		p = p.Rooted(rootDir)
	}
	if configFile != "" {
		p.SRIOVConfigFile = configFile
	}
	return p
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pkg.Error("sriov-config failed: %v", err)
		os.Exit(1)
	}
}
