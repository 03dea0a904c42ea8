// Package sriov drives the SR-IOV state of physical functions: the numvfs
// sysfs knob, VF creation tracking, VF link attributes and the host
// artifacts left over by older provisioning scripts.
package sriov

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
	"github.com/pkg/errors"
	"github.com/safchain/ethtool"
	"github.com/sirupsen/logrus"
)

// MellanoxVendorID is the PCI vendor whose PFs need the eswitch toggled to
// switchdev once VFs exist
const MellanoxVendorID = "0x15b3"

// DeviceManager reads and writes the SR-IOV attributes of PFs under a
// sys/class/net tree
type DeviceManager struct {
	sysClassNet string
	log         logrus.FieldLogger

	// busInfo resolves the PCI address of an interface, nil uses ethtool
	busInfo func(ifname string) (string, error)

	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
}

// NewDeviceManager creates a device manager rooted at sysClassNet
// (normally /sys/class/net)
func NewDeviceManager(sysClassNet string, log logrus.FieldLogger) *DeviceManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DeviceManager{
		sysClassNet: sysClassNet,
		log:         log,
	}
}

func (dm *DeviceManager) devicePath(pf string, elem ...string) string {
	return filepath.Join(append([]string{dm.sysClassNet, pf, "device"}, elem...)...)
}

func readUint(path string) (uint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", path)
	}
	return uint(v), nil
}

// GetNumVFs returns the current VF count of pf, 0 when it cannot be read
func (dm *DeviceManager) GetNumVFs(pf string) uint {
	n, err := readUint(dm.devicePath(pf, "sriov_numvfs"))
	if err != nil {
		dm.log.WithError(err).WithField("pf", pf).Debug("unable to read sriov_numvfs")
		return 0
	}
	return n
}

// GetTotalVFs returns the maximum VF count supported by pf, 0 when unknown
func (dm *DeviceManager) GetTotalVFs(pf string) uint {
	n, err := readUint(dm.devicePath(pf, "sriov_totalvfs"))
	if err != nil {
		dm.log.WithError(err).WithField("pf", pf).Debug("unable to read sriov_totalvfs")
		return 0
	}
	return n
}

// SetNumVFs requests n VFs on pf. Nothing is written when pf already has n
// VFs. A nonzero count is preceded by a reset to 0 since most drivers
// refuse to change a nonzero count directly.
func (dm *DeviceManager) SetNumVFs(pf string, n uint) error {
	path := dm.devicePath(pf, "sriov_numvfs")
	if _, err := os.Stat(path); err != nil {
		return &DeviceWriteError{PF: pf, NumVFs: n, Err: err}
	}

	current := dm.GetNumVFs(pf)
	if current == n {
		dm.log.WithFields(logrus.Fields{"pf": pf, "numvfs": n}).Info("numvfs already set")
		return nil
	}

	if n != 0 {
		if err := writeAttr(path, "0"); err != nil {
			return &DeviceWriteError{PF: pf, NumVFs: n, Err: errors.Wrap(err, "reset to 0")}
		}
	}
	if err := writeAttr(path, strconv.FormatUint(uint64(n), 10)); err != nil {
		return &DeviceWriteError{PF: pf, NumVFs: n, Err: err}
	}

	dm.log.WithFields(logrus.Fields{
		"pf":       pf,
		"numvfs":   n,
		"previous": current,
	}).Info("numvfs set")
	return nil
}

// writeAttr writes a sysfs attribute. The file is never created.
func writeAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

// GetVendorID returns the PCI vendor id of pf, e.g. 0x15b3
func (dm *DeviceManager) GetVendorID(pf string) (string, error) {
	data, err := os.ReadFile(dm.devicePath(pf, "vendor"))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read vendor of %s", pf)
	}
	return strings.ToLower(strings.TrimSpace(string(data))), nil
}

// GetPCIAddress returns the PCI address of pf. The ethtool bus-info is
// tried first, then the device symlink in sysfs.
func (dm *DeviceManager) GetPCIAddress(pf string) (string, error) {
	lookup := dm.busInfo
	if lookup == nil {
		lookup = ethtoolBusInfo
	}
	addr, err := lookup(pf)
	if err == nil && addr != "" {
		return addr, nil
	}
	if err != nil {
		dm.log.WithError(err).WithField("pf", pf).Debug("ethtool bus-info lookup failed, using sysfs")
	}

	target, err := os.Readlink(dm.devicePath(pf))
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve PCI address of %s", pf)
	}
	return filepath.Base(target), nil
}

func ethtoolBusInfo(ifname string) (string, error) {
	e, err := ethtool.NewEthtool()
	if err != nil {
		return "", errors.Wrap(err, "failed to create ethtool handle")
	}
	defer e.Close()
	return e.BusInfo(ifname)
}

// CountVFs returns the number of VFs of pf that already expose a network
// interface
func (dm *DeviceManager) CountVFs(pf string) uint {
	links, err := filepath.Glob(dm.devicePath(pf, "virtfn*"))
	if err != nil {
		return 0
	}
	var n uint
	for _, link := range links {
		entries, err := os.ReadDir(filepath.Join(link, "net"))
		if err == nil && len(entries) > 0 {
			n++
		}
	}
	return n
}

// VirtualFunction is a VF as seen from its PF's sysfs entry
type VirtualFunction struct {
	ID         int
	PCIAddress string
	Driver     string
}

// VirtualFunctions lists the VFs of pf ordered by VF id
func (dm *DeviceManager) VirtualFunctions(pf string) ([]VirtualFunction, error) {
	links, err := filepath.Glob(dm.devicePath(pf, "virtfn*"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list VFs of %s", pf)
	}

	var vfs []VirtualFunction
	for _, link := range links {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(link), "virtfn"))
		if err != nil {
			continue
		}
		target, err := os.Readlink(link)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve %s", link)
		}
		vf := VirtualFunction{ID: id, PCIAddress: filepath.Base(target)}
		if drv, err := os.Readlink(filepath.Join(link, "driver")); err == nil {
			vf.Driver = filepath.Base(drv)
		}
		vfs = append(vfs, vf)
	}
	sort.Slice(vfs, func(i, j int) bool { return vfs[i].ID < vfs[j].ID })
	return vfs, nil
}

// VendorName resolves a PCI vendor id to its name using the pci.ids
// database. The id is returned unchanged when it cannot be resolved.
func (dm *DeviceManager) VendorName(vendorID string) string {
	dm.pciOnce.Do(func() {
		db, err := pcidb.New()
		if err != nil {
			dm.log.WithError(err).Debug("pci.ids database not available")
			return
		}
		dm.pciDB = db
	})
	if dm.pciDB == nil {
		return vendorID
	}
	key := strings.TrimPrefix(strings.ToLower(vendorID), "0x")
	if v, ok := dm.pciDB.Vendors[key]; ok && v != nil {
		return v.Name
	}
	return vendorID
}
