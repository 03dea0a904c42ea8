package sriov

import (
	"context"
	stderrors "errors"

	"github.com/sirupsen/logrus"

	"sriov-config/pkg/executor"
	"sriov-config/pkg/types"
	"sriov-config/pkg/udev"
)

// NumVFsDevice is the sysfs side of a PF
type NumVFsDevice interface {
	GetNumVFs(pf string) uint
	SetNumVFs(pf string, n uint) error
	GetTotalVFs(pf string) uint
	GetVendorID(pf string) (string, error)
}

// RuleWriter persists boot-time policy for PFs
type RuleWriter interface {
	AddLegacyRule(name string, numvfs uint) (bool, error)
	AddPFRule(name string) (bool, error)
}

// UdevController makes udevd pick up rule changes
type UdevController interface {
	ReloadRules() error
	TriggerRules() error
}

// VFWaiter blocks until the VFs of a PF exist
type VFWaiter interface {
	WaitForVFCreation(ctx context.Context, pf string, n uint) error
}

// SwitchdevConfigurer moves a PF eswitch to switchdev mode
type SwitchdevConfigurer interface {
	EnableSwitchdev(pf string) error
}

// ReconcilerDeps are the collaborators of a Reconciler. Switchdev and
// Runner are optional.
type ReconcilerDeps struct {
	Device    NumVFsDevice
	Rules     RuleWriter
	Udev      UdevController
	Waiter    VFWaiter
	Switchdev SwitchdevConfigurer
	Runner    executor.Executor
	Log       logrus.FieldLogger
}

// PFResult is the outcome of reconciling one PF
type PFResult struct {
	Name        string
	Partitioned bool
	RuleChanged bool
	Desired     uint
	Current     uint
	Err         error
}

// Report collects the per-PF outcomes of a run
type Report struct {
	PFs []PFResult
	// NeedsTrigger is set when a PF naming rule changed and udev has to
	// replay add events to rename the PF
	NeedsTrigger bool
}

// Err joins the errors of all PFs
func (r *Report) Err() error {
	var errs []error
	for _, pf := range r.PFs {
		if pf.Err != nil {
			errs = append(errs, pf.Err)
		}
	}
	return joinErrors(errs)
}

// Reconciler brings the VF count of each PF to its desired value and keeps
// the boot-time udev policy in line with it
type Reconciler struct {
	deps ReconcilerDeps
	log  logrus.FieldLogger
}

// NewReconciler returns a Reconciler over deps. A nil Log falls back to the
// standard logger.
func NewReconciler(deps ReconcilerDeps) *Reconciler {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{deps: deps, log: log}
}

// Reconcile processes pfs one at a time. A PF referenced as parent by an
// entry of vfs is nic-partitioned and keeps its udev rules untouched.
//
// Failures of a single PF are recorded in the report and the run goes on.
// The returned error is only set when the run cannot continue: a rule file
// could not be read or written, or ctx is done.
func (r *Reconciler) Reconcile(ctx context.Context, pfs []types.PFConfig, vfs []types.VFConfig) (*Report, error) {
	partitioned := types.PartitionedPFs(vfs)
	report := &Report{}

	for _, pf := range pfs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, needsTrigger, err := r.reconcilePF(ctx, pf, partitioned[pf.Name])
		report.PFs = append(report.PFs, res)
		if needsTrigger {
			report.NeedsTrigger = true
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Reconciler) reconcilePF(ctx context.Context, pf types.PFConfig, partitioned bool) (PFResult, bool, error) {
	log := r.log.WithFields(logrus.Fields{
		"pf":     pf.Name,
		"numvfs": pf.NumVFs,
		"mode":   pf.Mode(),
	})
	res := PFResult{Name: pf.Name, Desired: pf.NumVFs, Partitioned: partitioned}
	var errs []error
	needsTrigger := false

	r.setupLink(pf, log)

	if partitioned {
		log.Info("pf is nic-partitioned, leaving udev rules untouched")
	} else {
		changed, err := r.refreshRule(pf, log)
		res.RuleChanged = changed
		if err != nil {
			var rfe *udev.RuleFileError
			if stderrors.As(err, &rfe) {
				res.Err = err
				return res, false, err
			}
			log.WithError(err).Warn("failed to refresh udev rule")
			errs = append(errs, err)
		}
		needsTrigger = changed && pf.Mode() == types.LinkModeSwitchdev
	}

	if err := r.deps.Device.SetNumVFs(pf.Name, pf.NumVFs); err != nil {
		log.WithError(err).Error("failed to set numvfs")
		res.Err = joinErrors(append(errs, err))
		return res, needsTrigger, nil
	}

	current := r.deps.Device.GetNumVFs(pf.Name)
	log.WithField("current", current).Debug("numvfs read back")

	if err := r.deps.Waiter.WaitForVFCreation(ctx, pf.Name, pf.NumVFs); err != nil {
		var timeout *VFCreationTimeoutError
		if !stderrors.As(err, &timeout) {
			res.Err = joinErrors(append(errs, err))
			return res, needsTrigger, err
		}
		log.WithError(err).Warn("vfs were not created in time")
		errs = append(errs, err)
	}

	res.Current = r.deps.Device.GetNumVFs(pf.Name)
	if res.Current != pf.NumVFs {
		log.WithFields(logrus.Fields{
			"current":  res.Current,
			"totalvfs": r.deps.Device.GetTotalVFs(pf.Name),
		}).Warn("numvfs differs from the requested count")
	} else {
		log.Info("numvfs confirmed")
	}

	if pf.Mode() == types.LinkModeSwitchdev && r.deps.Switchdev != nil {
		if err := r.enableSwitchdev(pf.Name, log); err != nil {
			errs = append(errs, err)
		}
	}

	res.Err = joinErrors(errs)
	return res, needsTrigger, nil
}

// refreshRule writes the boot-time rule of pf and reports whether it changed
func (r *Reconciler) refreshRule(pf types.PFConfig, log logrus.FieldLogger) (bool, error) {
	if pf.Mode() == types.LinkModeSwitchdev {
		return r.deps.Rules.AddPFRule(pf.Name)
	}

	changed, err := r.deps.Rules.AddLegacyRule(pf.Name, pf.NumVFs)
	if err != nil || !changed {
		return changed, err
	}
	if err := r.deps.Udev.ReloadRules(); err != nil {
		log.WithError(err).Warn("failed to reload udev rules")
	}
	return true, nil
}

func (r *Reconciler) setupLink(pf types.PFConfig, log logrus.FieldLogger) {
	if r.deps.Runner == nil {
		return
	}
	if _, err := r.deps.Runner.Run("ip", []string{"link", "set", "dev", pf.Name, "up"}); err != nil {
		log.WithError(err).Warn("failed to bring pf up")
	}
	if pf.Promisc != nil {
		if _, err := r.deps.Runner.Run("ip", []string{"link", "set", "dev", pf.Name, "promisc", pf.Promisc.String()}); err != nil {
			log.WithError(err).Warn("failed to set pf promisc")
		}
	}
}

func (r *Reconciler) enableSwitchdev(pf string, log logrus.FieldLogger) error {
	vendor, err := r.deps.Device.GetVendorID(pf)
	if err != nil {
		return err
	}
	if vendor != MellanoxVendorID {
		log.WithField("vendor", vendor).Debug("vendor needs no eswitch change")
		return nil
	}
	if err := r.deps.Switchdev.EnableSwitchdev(pf); err != nil {
		log.WithError(err).Error("failed to enable switchdev")
		return err
	}
	return nil
}
