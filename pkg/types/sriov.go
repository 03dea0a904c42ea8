package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LinkMode selects how a PF and its VFs are named on the host
type LinkMode string

const (
	LinkModeLegacy    LinkMode = "legacy"
	LinkModeSwitchdev LinkMode = "switchdev"
)

// VFState is the administrative link state of a VF
type VFState string

const (
	VFStateAuto    VFState = "auto"
	VFStateEnable  VFState = "enable"
	VFStateDisable VFState = "disable"
)

// OnOff is a boolean rendered as "on"/"off", the way ip-link expects it
type OnOff bool

func (o OnOff) String() string {
	if o {
		return "on"
	}
	return "off"
}

// UnmarshalYAML accepts on/off as well as the YAML 1.2 booleans
func (o *OnOff) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "on", "true", "yes":
		*o = true
	case "off", "false", "no":
		*o = false
	default:
		return fmt.Errorf("line %d: invalid on/off value %q", value.Line, value.Value)
	}
	return nil
}

// MarshalYAML writes the flag back as on or off
func (o OnOff) MarshalYAML() (interface{}, error) {
	return o.String(), nil
}

// UnmarshalYAML validates the VF state against the values ip-link accepts
func (s *VFState) UnmarshalYAML(value *yaml.Node) error {
	switch v := VFState(strings.ToLower(value.Value)); v {
	case VFStateAuto, VFStateEnable, VFStateDisable:
		*s = v
	default:
		return fmt.Errorf("line %d: invalid vf state %q", value.Line, value.Value)
	}
	return nil
}

// PFConfig is the desired state of a Physical Function
type PFConfig struct {
	Name     string   `yaml:"name"`
	NumVFs   uint     `yaml:"numvfs"`
	Promisc  *OnOff   `yaml:"promisc,omitempty"`
	LinkMode LinkMode `yaml:"link_mode,omitempty"`
}

// Mode returns the link mode, defaulting to legacy
func (pf PFConfig) Mode() LinkMode {
	if pf.LinkMode == "" {
		return LinkModeLegacy
	}
	return pf.LinkMode
}

// VFParent identifies the PF and VF index a VF descriptor refers to
type VFParent struct {
	Name string `yaml:"name"`
	VFID uint   `yaml:"vfid"`
}

// VFConfig is the desired state of a Virtual Function. Nil attributes are
// left untouched on the host.
type VFConfig struct {
	Device     VFParent `yaml:"device"`
	Name       string   `yaml:"name"`
	MACAddr    *string  `yaml:"macaddr,omitempty"`
	VlanID     *uint    `yaml:"vlan_id,omitempty"`
	QoS        *uint    `yaml:"qos,omitempty"`
	MinTxRate  *uint    `yaml:"min_tx_rate,omitempty"`
	MaxTxRate  *uint    `yaml:"max_tx_rate,omitempty"`
	Promisc    *OnOff   `yaml:"promisc,omitempty"`
	SpoofCheck *OnOff   `yaml:"spoofcheck,omitempty"`
	State      *VFState `yaml:"state,omitempty"`
	Trust      *OnOff   `yaml:"trust,omitempty"`
	PCIAddress string   `yaml:"pci_address,omitempty"`
}

func (vf VFConfig) String() string {
	return fmt.Sprintf("%s(%s vf %d)", vf.Name, vf.Device.Name, vf.Device.VFID)
}

// SRIOVMap is the full desired SR-IOV state of the host
type SRIOVMap struct {
	PFs []PFConfig
	VFs []VFConfig
}

// PartitionedPFs returns the names of PFs referenced as parent by a VF
// descriptor. Such PFs already carry VFs bound by another mechanism.
func (m *SRIOVMap) PartitionedPFs() map[string]bool {
	return PartitionedPFs(m.VFs)
}

// PartitionedPFs returns the set of parent PF names referenced by vfs
func PartitionedPFs(vfs []VFConfig) map[string]bool {
	parts := make(map[string]bool, len(vfs))
	for _, vf := range vfs {
		if vf.Device.Name != "" {
			parts[vf.Device.Name] = true
		}
	}
	return parts
}
