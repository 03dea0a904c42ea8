// Command os-net-config-sriov is run by udev when a PF is added. It sets
// the VF count of that PF unless VFs already exist.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sriov-config/internal/config"
	"sriov-config/pkg"
	"sriov-config/pkg/sriov"
)

var (
	numvfsArg   string
	sysClassNet string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:          "os-net-config-sriov -n <name>:<count>",
	Short:        "Set the VF count of a single PF",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pkg.SetLogLevelFromString(logLevel); err != nil {
			return fmt.Errorf("invalid log level: %v", err)
		}
		devices := sriov.NewDeviceManager(sysClassNet, pkg.Component("device"))
		if err := sriov.ConfigureNumvfs(devices, numvfsArg, pkg.Component("numvfs")); err != nil {
			pkg.WithError(err).WithField("arg", numvfsArg).Error("failed to configure numvfs")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&numvfsArg, "numvfs", "n", "", "PF name and VF count as <name>:<count>")
	rootCmd.Flags().StringVar(&sysClassNet, "sys-class-net", config.DefaultPaths().SysClassNet, "Location of sys/class/net")
	rootCmd.Flags().StringVar(&logLevel, "log-level", config.DefaultSettings().LogLevel, "Log level: debug, info, warn, error")
	_ = rootCmd.MarkFlagRequired("numvfs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
