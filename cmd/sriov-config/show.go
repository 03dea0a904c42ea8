package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sriov-config/internal/config"
	"sriov-config/pkg"
	"sriov-config/pkg/sriov"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the desired SR-IOV state next to the current VF counts",
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	p := hostPaths()
	pkg.WithField("path", p.SRIOVConfigFile).Debug("loading sriov config")
	sriovMap, err := config.LoadConfig(p.SRIOVConfigFile)
	if err != nil {
		return err
	}
	devices := sriov.NewDeviceManager(p.SysClassNet, pkg.Component("device"))
	partitioned := sriovMap.PartitionedPFs()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PF\tMODE\tDESIRED\tCURRENT\tTOTAL\tNICPART")
	for _, pf := range sriovMap.PFs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%t\n", pf.Name, pf.Mode(), pf.NumVFs,
			devices.GetNumVFs(pf.Name), devices.GetTotalVFs(pf.Name), partitioned[pf.Name])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(sriovMap.VFs) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VF\tPF\tVFID\tCOMMANDS")
	for _, vf := range sriovMap.VFs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", vf.Name, vf.Device.Name, vf.Device.VFID, len(sriov.VFCommands(vf)))
	}
	return w.Flush()
}
