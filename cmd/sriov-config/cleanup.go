package main

import (
	"github.com/spf13/cobra"

	"sriov-config/pkg"
	"sriov-config/pkg/sriov"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove files left by the legacy allocate_vfs mechanism",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := hostPaths()
		cleaner := &sriov.LegacyCleaner{
			ResetSRIOVRules: p.ResetSRIOVRules,
			AllocateVFsFile: p.AllocateVFsFile,
			IfupLocalFile:   p.IfupLocalFile,
			Log:             pkg.Component("cleanup"),
		}
		if err := cleaner.Cleanup(); err != nil {
			return err
		}
		pkg.Info("legacy sriov files cleaned up")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
