package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sriov-config/internal/config"
	"sriov-config/pkg"
)

var (
	// Apply command flags
	applyVFTimeout    time.Duration
	applyPollInterval time.Duration
	applyNoLinkEvents bool
	applyNetNS        string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the SR-IOV desired state",
	Long: `Apply the SR-IOV desired state to the host.

This command will:
  • Remove files left by the legacy allocate_vfs mechanism
  • Refresh the udev rules of every PF that is not nic-partitioned
  • Set the VF count of every PF and wait for the VFs to show up
  • Apply the link attributes of every VF

Examples:
  sriov-config apply
  sriov-config apply --vf-timeout 2m
  sriov-config apply --netns /proc/1/ns/net`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	settings := config.DefaultSettings()
	applyCmd.Flags().DurationVar(&applyVFTimeout, "vf-timeout", settings.VFCreationTimeout, "How long to wait for the VFs of a PF")
	applyCmd.Flags().DurationVar(&applyPollInterval, "poll-interval", settings.PollInterval, "Interval between sysfs VF count checks")
	applyCmd.Flags().BoolVar(&applyNoLinkEvents, "no-link-events", false, "Do not subscribe to netlink link events, poll only")
	applyCmd.Flags().StringVar(&applyNetNS, "netns", "", "Network namespace path to watch for link events")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	paths := hostPaths()
	paths.HostNetNSPath = applyNetNS

	settings := config.DefaultSettings()
	settings.VFCreationTimeout = applyVFTimeout
	settings.PollInterval = applyPollInterval
	settings.LogLevel = logLevel

	pkg.WithFields(map[string]interface{}{
		"config":     paths.SRIOVConfigFile,
		"vf_timeout": settings.VFCreationTimeout,
	}).Info("applying sriov config")
	if pkg.IsDebugEnabled() {
		pkg.Debug("host paths: %+v", paths)
	}

	manager := pkg.NewSRIOVManager(pkg.ManagerOptions{
		Paths:        paths,
		Settings:     settings,
		NoLinkEvents: applyNoLinkEvents,
	})
	err := manager.Run(ctx)
	if ctx.Err() != nil {
		pkg.Warn("apply interrupted: %v", ctx.Err())
	}
	return err
}
