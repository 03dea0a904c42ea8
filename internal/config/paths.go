package config

import (
	"path/filepath"
	"time"
)

// Paths holds every host location the tool reads or writes. Tests point
// them at a temporary directory.
type Paths struct {
	SysClassNet      string
	SysBusPCIDrivers string
	UdevRuleFile     string
	UdevLegacyRule   string
	SRIOVConfigFile  string
	ResetSRIOVRules  string
	AllocateVFsFile  string
	IfupLocalFile    string
	NumvfsHelper     string
	HostNetNSPath    string
}

// DefaultPaths returns the locations used on a deployed host
func DefaultPaths() Paths {
	return Paths{
		SysClassNet:      "/sys/class/net",
		SysBusPCIDrivers: "/sys/bus/pci/drivers",
		UdevRuleFile:     "/etc/udev/rules.d/80-persistent-os-net-config.rules",
		UdevLegacyRule:   "/etc/udev/rules.d/70-os-net-config-sriov.rules",
		SRIOVConfigFile:  "/var/lib/os-net-config/sriov_config.yaml",
		ResetSRIOVRules:  "/etc/udev/rules.d/70-tripleo-reset-sriov.rules",
		AllocateVFsFile:  "/etc/sysconfig/allocate_vfs",
		IfupLocalFile:    "/sbin/ifup-local",
		NumvfsHelper:     "/bin/os-net-config-sriov",
	}
}

// Rooted returns a copy of p with every filesystem path moved under root.
// The helper command is kept as is since it ends up inside udev rules.
func (p Paths) Rooted(root string) Paths {
	join := func(s string) string {
		if s == "" {
			return s
		}
		return filepath.Join(root, s)
	}
	return Paths{
		SysClassNet:      join(p.SysClassNet),
		SysBusPCIDrivers: join(p.SysBusPCIDrivers),
		UdevRuleFile:     join(p.UdevRuleFile),
		UdevLegacyRule:   join(p.UdevLegacyRule),
		SRIOVConfigFile:  join(p.SRIOVConfigFile),
		ResetSRIOVRules:  join(p.ResetSRIOVRules),
		AllocateVFsFile:  join(p.AllocateVFsFile),
		IfupLocalFile:    join(p.IfupLocalFile),
		NumvfsHelper:     p.NumvfsHelper,
		HostNetNSPath:    p.HostNetNSPath,
	}
}

// Settings are the timing knobs of a run
type Settings struct {
	VFCreationTimeout time.Duration
	PollInterval      time.Duration
	LogLevel          string
}

// DefaultSettings returns the timing and log level used when no flag
// overrides them
func DefaultSettings() Settings {
	return Settings{
		VFCreationTimeout: 60 * time.Second,
		PollInterval:      time.Second,
		LogLevel:          "info",
	}
}
