package sriov

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const eswitchModeSwitchdev = "switchdev"

// NetlinkSwitchdev moves the eswitch of a PF to switchdev mode through
// devlink. VFs have to be detached from their driver while the mode
// changes, so they are unbound first and bound again afterwards.
type NetlinkSwitchdev struct {
	dm         *DeviceManager
	driversDir string
	log        logrus.FieldLogger

	setEswitchMode func(pciAddress, mode string) error
}

// NewNetlinkSwitchdev creates the switchdev toggle. driversDir is normally
// /sys/bus/pci/drivers.
func NewNetlinkSwitchdev(dm *DeviceManager, driversDir string, log logrus.FieldLogger) *NetlinkSwitchdev {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NetlinkSwitchdev{
		dm:             dm,
		driversDir:     driversDir,
		log:            log,
		setEswitchMode: devlinkSetEswitchMode,
	}
}

func devlinkSetEswitchMode(pciAddress, mode string) error {
	dev, err := netlink.DevLinkGetDeviceByName("pci", pciAddress)
	if err != nil {
		return errors.Wrapf(err, "devlink device pci/%s not found", pciAddress)
	}
	if dev.Attrs.Eswitch.Mode == mode {
		return nil
	}
	return errors.Wrapf(netlink.DevLinkSetEswitchMode(dev, mode), "failed to set eswitch mode of pci/%s", pciAddress)
}

// EnableSwitchdev switches the eswitch of pf to switchdev mode
func (s *NetlinkSwitchdev) EnableSwitchdev(pf string) error {
	addr, err := s.dm.GetPCIAddress(pf)
	if err != nil {
		return err
	}
	vfs, err := s.dm.VirtualFunctions(pf)
	if err != nil {
		return err
	}

	log := s.log.WithFields(logrus.Fields{"pf": pf, "pci": addr})
	for _, vf := range vfs {
		if vf.Driver == "" {
			continue
		}
		if err := s.driverAttr(vf.Driver, "unbind", vf.PCIAddress); err != nil {
			return err
		}
		log.WithField("vf", vf.PCIAddress).Debug("vf unbound")
	}

	if err := s.setEswitchMode(addr, eswitchModeSwitchdev); err != nil {
		return err
	}
	log.Info("eswitch mode set to switchdev")

	var errs []error
	for _, vf := range vfs {
		if vf.Driver == "" {
			continue
		}
		if err := s.driverAttr(vf.Driver, "bind", vf.PCIAddress); err != nil {
			errs = append(errs, err)
			continue
		}
		log.WithField("vf", vf.PCIAddress).Debug("vf bound")
	}
	return joinErrors(errs)
}

func (s *NetlinkSwitchdev) driverAttr(driver, attr, pciAddress string) error {
	path := filepath.Join(s.driversDir, driver, attr)
	if err := os.WriteFile(path, []byte(pciAddress), 0644); err != nil {
		return errors.Wrapf(err, "failed to %s %s from %s", attr, pciAddress, driver)
	}
	return nil
}
