package sriov

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sriov-config/pkg/executor"
	"sriov-config/pkg/types"
	"sriov-config/pkg/udev"
)

// recorder stands in for the device, udev, observer and switchdev
// collaborators and keeps the order in which the reconciler used them
type recorder struct {
	actions []string
	numvfs  map[string]uint
	vendor  string
	setErr  map[string]error
	waitErr map[string]error
}

func newRecorder() *recorder {
	return &recorder{
		numvfs:  make(map[string]uint),
		vendor:  "0x8086",
		setErr:  make(map[string]error),
		waitErr: make(map[string]error),
	}
}

func (r *recorder) record(format string, args ...interface{}) {
	r.actions = append(r.actions, fmt.Sprintf(format, args...))
}

func (r *recorder) GetNumVFs(pf string) uint {
	r.record("get %s", pf)
	return r.numvfs[pf]
}

func (r *recorder) SetNumVFs(pf string, n uint) error {
	r.record("set %s %d", pf, n)
	if err := r.setErr[pf]; err != nil {
		return err
	}
	r.numvfs[pf] = n
	return nil
}

func (r *recorder) GetTotalVFs(string) uint { return 64 }

func (r *recorder) GetVendorID(string) (string, error) { return r.vendor, nil }

func (r *recorder) ReloadRules() error {
	r.record("reload")
	return nil
}

func (r *recorder) TriggerRules() error {
	r.record("trigger")
	return nil
}

func (r *recorder) WaitForVFCreation(_ context.Context, pf string, n uint) error {
	r.record("wait %s %d", pf, n)
	return r.waitErr[pf]
}

func (r *recorder) EnableSwitchdev(pf string) error {
	r.record("switchdev %s", pf)
	return nil
}

// recordingRules is a RuleWriter that never touches the filesystem
type recordingRules struct {
	*recorder
	err error
}

func (r *recordingRules) AddLegacyRule(name string, numvfs uint) (bool, error) {
	r.record("legacy_rule %s %d", name, numvfs)
	return r.err == nil, r.err
}

func (r *recordingRules) AddPFRule(name string) (bool, error) {
	r.record("pf_rule %s", name)
	return r.err == nil, r.err
}

func newRuleStore(t *testing.T) (*udev.Store, string) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "70-os-net-config-sriov.rules")
	lookup := func(string) (string, error) { return "0000:01:01.0", nil }
	return udev.NewStore(filepath.Join(dir, "80-persistent-os-net-config.rules"), legacy,
		"/bin/os-net-config-sriov", lookup, nil), legacy
}

func newRecordingReconciler(rec *recorder, rules RuleWriter) *Reconciler {
	return NewReconciler(ReconcilerDeps{
		Device:    rec,
		Rules:     rules,
		Udev:      rec,
		Waiter:    rec,
		Switchdev: rec,
	})
}

func TestReconcileNicPartitioned(t *testing.T) {
	rec := newRecorder()
	store, legacy := newRuleStore(t)
	r := newRecordingReconciler(rec, store)

	pfs := []types.PFConfig{
		{Name: "p2p1", NumVFs: 10},
		{Name: "p2p2", NumVFs: 12},
	}
	vfs := []types.VFConfig{
		{Device: types.VFParent{Name: "p2p1", VFID: 1}, Name: "p2p1_1"},
	}

	report, err := r.Reconcile(context.Background(), pfs, vfs)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, []string{
		"set p2p1 10", "get p2p1", "wait p2p1 10", "get p2p1",
		"reload", "set p2p2 12", "get p2p2", "wait p2p2 12", "get p2p2",
	}, rec.actions)

	data, err := os.ReadFile(legacy)
	require.NoError(t, err)
	assert.Equal(t, "# This file is autogenerated by os-net-config\n"+
		`KERNEL=="p2p2", RUN+="/bin/os-net-config-sriov -n %k:12"`+"\n", string(data))

	require.Len(t, report.PFs, 2)
	assert.True(t, report.PFs[0].Partitioned)
	assert.False(t, report.PFs[0].RuleChanged)
	assert.False(t, report.PFs[1].Partitioned)
	assert.True(t, report.PFs[1].RuleChanged)
	assert.Equal(t, uint(12), report.PFs[1].Current)
}

func TestReconcileNotPartitioned(t *testing.T) {
	rec := newRecorder()
	store, legacy := newRuleStore(t)
	r := newRecordingReconciler(rec, store)

	pfs := []types.PFConfig{
		{Name: "p2p1", NumVFs: 10},
		{Name: "p2p2", NumVFs: 12},
	}

	_, err := r.Reconcile(context.Background(), pfs, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"reload", "set p2p1 10", "get p2p1", "wait p2p1 10", "get p2p1",
		"reload", "set p2p2 12", "get p2p2", "wait p2p2 12", "get p2p2",
	}, rec.actions)

	data, err := os.ReadFile(legacy)
	require.NoError(t, err)
	assert.Equal(t, "# This file is autogenerated by os-net-config\n"+
		`KERNEL=="p2p1", RUN+="/bin/os-net-config-sriov -n %k:10"`+"\n"+
		`KERNEL=="p2p2", RUN+="/bin/os-net-config-sriov -n %k:12"`+"\n", string(data))

	// a second run leaves the rules alone, so udev is not reloaded again
	rec.actions = nil
	_, err = r.Reconcile(context.Background(), pfs, nil)
	require.NoError(t, err)
	assert.NotContains(t, rec.actions, "reload")
}

func TestReconcileSysfs(t *testing.T) {
	s := newFakeSysfs(t)
	s.addPF("p2p1", "0000:01:01.0", 0, 64)
	dm := newTestDeviceManager(s)
	rec := newRecorder()
	store, legacy := newRuleStore(t)

	r := NewReconciler(ReconcilerDeps{Device: dm, Rules: store, Udev: rec, Waiter: rec})
	report, err := r.Reconcile(context.Background(), []types.PFConfig{{Name: "p2p1", NumVFs: 15}}, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, uint(15), dm.GetNumVFs("p2p1"))
	data, err := os.ReadFile(legacy)
	require.NoError(t, err)
	assert.Contains(t, string(data), `KERNEL=="p2p1", RUN+="/bin/os-net-config-sriov -n %k:15"`)
}

func TestReconcileDeviceWriteErrorAbortsOnlyThatPF(t *testing.T) {
	rec := newRecorder()
	rec.setErr["p2p1"] = &DeviceWriteError{PF: "p2p1", NumVFs: 10, Err: errors.New("device or resource busy")}
	r := newRecordingReconciler(rec, &recordingRules{recorder: rec})

	pfs := []types.PFConfig{
		{Name: "p2p1", NumVFs: 10},
		{Name: "p2p2", NumVFs: 12},
	}
	report, err := r.Reconcile(context.Background(), pfs, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"legacy_rule p2p1 10", "reload", "set p2p1 10",
		"legacy_rule p2p2 12", "reload", "set p2p2 12", "get p2p2", "wait p2p2 12", "get p2p2",
	}, rec.actions)

	var dwe *DeviceWriteError
	require.True(t, errors.As(report.PFs[0].Err, &dwe))
	assert.NoError(t, report.PFs[1].Err)
	assert.True(t, errors.As(report.Err(), &dwe))
}

func TestReconcileTimeoutContinues(t *testing.T) {
	rec := newRecorder()
	rec.waitErr["p2p1"] = &VFCreationTimeoutError{PF: "p2p1", Expected: 10}
	r := newRecordingReconciler(rec, &recordingRules{recorder: rec})

	pfs := []types.PFConfig{
		{Name: "p2p1", NumVFs: 10},
		{Name: "p2p2", NumVFs: 12},
	}
	report, err := r.Reconcile(context.Background(), pfs, nil)
	require.NoError(t, err)

	// the timed out PF is still confirmed
	assert.Equal(t, []string{
		"legacy_rule p2p1 10", "reload", "set p2p1 10", "get p2p1", "wait p2p1 10", "get p2p1",
		"legacy_rule p2p2 12", "reload", "set p2p2 12", "get p2p2", "wait p2p2 12", "get p2p2",
	}, rec.actions)

	var timeout *VFCreationTimeoutError
	assert.True(t, errors.As(report.PFs[0].Err, &timeout))
	assert.NoError(t, report.PFs[1].Err)
}

func TestReconcileRuleFileErrorAbortsRun(t *testing.T) {
	rec := newRecorder()
	rules := &recordingRules{
		recorder: rec,
		err:      &udev.RuleFileError{Path: "/etc/udev/rules.d/70-os-net-config-sriov.rules", Err: os.ErrPermission},
	}
	r := newRecordingReconciler(rec, rules)

	pfs := []types.PFConfig{
		{Name: "p2p1", NumVFs: 10},
		{Name: "p2p2", NumVFs: 12},
	}
	report, err := r.Reconcile(context.Background(), pfs, nil)

	var rfe *udev.RuleFileError
	require.True(t, errors.As(err, &rfe))
	assert.Equal(t, []string{"legacy_rule p2p1 10"}, rec.actions)
	assert.Len(t, report.PFs, 1)
}

func TestReconcileSwitchdev(t *testing.T) {
	rec := newRecorder()
	rec.vendor = MellanoxVendorID
	r := newRecordingReconciler(rec, &recordingRules{recorder: rec})

	pfs := []types.PFConfig{{Name: "enp3s0f0", NumVFs: 4, LinkMode: types.LinkModeSwitchdev}}
	report, err := r.Reconcile(context.Background(), pfs, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"pf_rule enp3s0f0", "set enp3s0f0 4", "get enp3s0f0", "wait enp3s0f0 4", "get enp3s0f0",
		"switchdev enp3s0f0",
	}, rec.actions)
	assert.True(t, report.NeedsTrigger)
}

func TestReconcileSwitchdevOtherVendor(t *testing.T) {
	rec := newRecorder()
	r := newRecordingReconciler(rec, &recordingRules{recorder: rec})

	pfs := []types.PFConfig{{Name: "ens1f0", NumVFs: 4, LinkMode: types.LinkModeSwitchdev}}
	_, err := r.Reconcile(context.Background(), pfs, nil)
	require.NoError(t, err)
	assert.NotContains(t, rec.actions, "switchdev ens1f0")
}

func TestReconcileSetsUpPFLink(t *testing.T) {
	rec := newRecorder()
	runner := executor.NewFakeExecutor()
	on := types.OnOff(true)
	r := NewReconciler(ReconcilerDeps{
		Device: rec,
		Rules:  &recordingRules{recorder: rec},
		Udev:   rec,
		Waiter: rec,
		Runner: runner,
	})

	pfs := []types.PFConfig{
		{Name: "p2p1", NumVFs: 2, Promisc: &on},
		{Name: "p2p2", NumVFs: 2},
	}
	_, err := r.Reconcile(context.Background(), pfs, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ip link set dev p2p1 up",
		"ip link set dev p2p1 promisc on",
		"ip link set dev p2p2 up",
	}, runner.Commands())
}

func TestReconcileCancelled(t *testing.T) {
	rec := newRecorder()
	r := newRecordingReconciler(rec, &recordingRules{recorder: rec})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Reconcile(ctx, []types.PFConfig{{Name: "p2p1", NumVFs: 2}}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.actions)
}
