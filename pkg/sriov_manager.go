package pkg

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"sriov-config/internal/config"
	"sriov-config/pkg/executor"
	"sriov-config/pkg/sriov"
	"sriov-config/pkg/types"
	"sriov-config/pkg/udev"
)

// ManagerOptions configures an SRIOVManager
type ManagerOptions struct {
	Paths    config.Paths
	Settings config.Settings

	// Runner executes ip and udevadm, nil runs them on the host
	Runner executor.Executor
	// Subscribe overrides the rtnetlink subscription of the VF observer
	Subscribe sriov.LinkSubscriber
	// NoLinkEvents makes the VF observer rely on polling only
	NoLinkEvents bool
}

// SRIOVManager runs a complete provisioning pass over the host
type SRIOVManager struct {
	paths config.Paths
	log   *logrus.Entry

	devices    *sriov.DeviceManager
	udev       *udev.Controller
	observer   *sriov.VFObserver
	reconciler *sriov.Reconciler
	vfs        *sriov.VFConfigurator
	cleaner    *sriov.LegacyCleaner
}

// NewSRIOVManager wires the device layer, rule store, observer and
// configurators together
func NewSRIOVManager(opts ManagerOptions) *SRIOVManager {
	runner := opts.Runner
	if runner == nil {
		runner = executor.NewLocalExecutor(Component("executor"))
	}

	subscribe := opts.Subscribe
	if subscribe == nil && !opts.NoLinkEvents {
		subscribe = sriov.HostLinkSubscriber(opts.Paths.HostNetNSPath)
	}

	p := opts.Paths
	devices := sriov.NewDeviceManager(p.SysClassNet, Component("device"))
	rules := udev.NewStore(p.UdevRuleFile, p.UdevLegacyRule, p.NumvfsHelper, devices.GetPCIAddress, Component("udev"))
	udevCtl := udev.NewController(runner, Component("udev"))
	observer := sriov.NewVFObserver(devices, sriov.ObserverConfig{
		SysClassNet:  p.SysClassNet,
		Timeout:      opts.Settings.VFCreationTimeout,
		PollInterval: opts.Settings.PollInterval,
		Subscribe:    subscribe,
		Log:          Component("observer"),
	})

	return &SRIOVManager{
		paths:    p,
		log:      Component("manager"),
		devices:  devices,
		udev:     udevCtl,
		observer: observer,
		reconciler: sriov.NewReconciler(sriov.ReconcilerDeps{
			Device:    devices,
			Rules:     rules,
			Udev:      udevCtl,
			Waiter:    observer,
			Switchdev: sriov.NewNetlinkSwitchdev(devices, p.SysBusPCIDrivers, Component("switchdev")),
			Runner:    runner,
			Log:       Component("reconciler"),
		}),
		vfs: sriov.NewVFConfigurator(runner, Component("vf")),
		cleaner: &sriov.LegacyCleaner{
			ResetSRIOVRules: p.ResetSRIOVRules,
			AllocateVFsFile: p.AllocateVFsFile,
			IfupLocalFile:   p.IfupLocalFile,
			Log:             Component("cleanup"),
		},
	}
}

// Run removes legacy artifacts, loads the desired state and applies it. A
// missing desired-state file means there is nothing to provision.
func (m *SRIOVManager) Run(ctx context.Context) error {
	if err := m.cleaner.Cleanup(); err != nil {
		m.log.WithError(err).Warn("legacy sriov cleanup incomplete")
	}

	sriovMap, err := config.LoadConfig(m.paths.SRIOVConfigFile)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			m.log.WithField("path", m.paths.SRIOVConfigFile).Info("no sriov config, nothing to do")
			return nil
		}
		return err
	}

	_, err = m.Apply(ctx, sriovMap)
	return err
}

// Apply reconciles every PF of sriovMap and then configures its VFs. The
// VF observer spans the whole batch of PFs.
func (m *SRIOVManager) Apply(ctx context.Context, sriovMap *types.SRIOVMap) (*sriov.Report, error) {
	m.logInventory(sriovMap.PFs)

	if err := m.observer.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start vf observer")
	}
	defer m.observer.Stop()

	report, err := m.reconciler.Reconcile(ctx, sriovMap.PFs, sriovMap.VFs)
	if err != nil {
		return report, err
	}

	if report.NeedsTrigger {
		if err := m.udev.TriggerRules(); err != nil {
			m.log.WithError(err).Warn("failed to trigger udev rules")
		}
	}

	vfErr := m.vfs.Configure(sriovMap.VFs)

	if err := stderrors.Join(report.Err(), vfErr); err != nil {
		m.log.WithError(err).Error("sriov configuration finished with errors")
		return report, err
	}
	m.log.WithFields(logrus.Fields{
		"pfs": len(sriovMap.PFs),
		"vfs": len(sriovMap.VFs),
	}).Info("sriov configuration applied")
	return report, nil
}

func (m *SRIOVManager) logInventory(pfs []types.PFConfig) {
	for _, pf := range pfs {
		fields := logrus.Fields{
			"pf":       pf.Name,
			"numvfs":   m.devices.GetNumVFs(pf.Name),
			"totalvfs": m.devices.GetTotalVFs(pf.Name),
		}
		if vendor, err := m.devices.GetVendorID(pf.Name); err == nil {
			fields["vendor"] = m.devices.VendorName(vendor)
		}
		m.log.WithFields(fields).Info("pf found")
	}
}
