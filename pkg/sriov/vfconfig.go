package sriov

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"sriov-config/pkg/executor"
	"sriov-config/pkg/types"
)

const ipCmd = "ip"

// VFCommands returns the ip-link argument lists that apply the attributes
// of vf, in the order they must run. Unset attributes yield no command.
func VFCommands(vf types.VFConfig) [][]string {
	pf := vf.Device.Name
	id := strconv.FormatUint(uint64(vf.Device.VFID), 10)
	vfArgs := func(args ...string) []string {
		return append([]string{"link", "set", "dev", pf, "vf", id}, args...)
	}
	u := func(v uint) string { return strconv.FormatUint(uint64(v), 10) }

	var cmds [][]string
	if vf.MACAddr != nil {
		cmds = append(cmds, vfArgs("mac", *vf.MACAddr))
	}
	if vf.VlanID != nil {
		args := vfArgs("vlan", u(*vf.VlanID))
		if vf.QoS != nil {
			args = append(args, "qos", u(*vf.QoS))
		}
		cmds = append(cmds, args)
	}
	if vf.MinTxRate != nil {
		cmds = append(cmds, vfArgs("min_tx_rate", u(*vf.MinTxRate)))
	}
	if vf.MaxTxRate != nil {
		cmds = append(cmds, vfArgs("max_tx_rate", u(*vf.MaxTxRate)))
	}
	if vf.Promisc != nil {
		// promiscuity is a property of the VF netdev itself
		cmds = append(cmds, []string{"link", "set", "dev", vf.Name, "promisc", vf.Promisc.String()})
	}
	if vf.SpoofCheck != nil {
		cmds = append(cmds, vfArgs("spoofchk", vf.SpoofCheck.String()))
	}
	if vf.State != nil {
		cmds = append(cmds, vfArgs("state", string(*vf.State)))
	}
	if vf.Trust != nil {
		cmds = append(cmds, vfArgs("trust", vf.Trust.String()))
	}
	return cmds
}

// VFConfigurator applies VF link attributes through ip-link
type VFConfigurator struct {
	runner executor.Executor
	log    logrus.FieldLogger
}

// NewVFConfigurator returns a VFConfigurator that runs ip through runner
func NewVFConfigurator(runner executor.Executor, log logrus.FieldLogger) *VFConfigurator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VFConfigurator{runner: runner, log: log}
}

// Configure applies every VF in turn. A failed command does not stop the
// remaining commands; all failures are returned joined together as
// *VFCommandError values.
func (c *VFConfigurator) Configure(vfs []types.VFConfig) error {
	var errs []error
	for _, vf := range vfs {
		errs = append(errs, c.configureVF(vf)...)
	}
	return joinErrors(errs)
}

func (c *VFConfigurator) configureVF(vf types.VFConfig) []error {
	log := c.log.WithFields(logrus.Fields{"vf": vf.Name, "pf": vf.Device.Name, "vfid": vf.Device.VFID})

	var errs []error
	for _, args := range VFCommands(vf) {
		line := executor.CommandLine(ipCmd, args)
		if _, err := c.runner.Run(ipCmd, args); err != nil {
			log.WithError(err).WithField("cmd", line).Error("vf command failed")
			errs = append(errs, &VFCommandError{VF: vf.String(), Command: line, Err: err})
			continue
		}
		log.WithField("cmd", line).Debug("vf command applied")
	}
	if len(errs) == 0 {
		log.Info("vf configured")
	}
	return errs
}
