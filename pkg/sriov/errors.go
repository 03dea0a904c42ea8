package sriov

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ParseError is a malformed name:count argument of the numvfs helper
type ParseError struct {
	Arg    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid numvfs argument %q: %s", e.Arg, e.Reason)
}

// DeviceWriteError means the sriov_numvfs attribute of a PF is missing or
// the kernel refused the value
type DeviceWriteError struct {
	PF     string
	NumVFs uint
	Err    error
}

func (e *DeviceWriteError) Error() string {
	return fmt.Sprintf("failed to set numvfs=%d on %s: %v", e.NumVFs, e.PF, e.Err)
}

func (e *DeviceWriteError) Unwrap() error { return e.Err }

// VFCreationTimeoutError means the expected VFs of a PF did not show up in
// time
type VFCreationTimeoutError struct {
	PF       string
	Expected uint
	Found    uint
	Timeout  time.Duration
}

func (e *VFCreationTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %d VFs on %s, found %d",
		e.Timeout, e.Expected, e.PF, e.Found)
}

// VFCommandError is a failed link command for a single VF attribute
type VFCommandError struct {
	VF      string
	Command string
	Err     error
}

func (e *VFCommandError) Error() string {
	return fmt.Sprintf("vf %s: %q failed: %v", e.VF, e.Command, e.Err)
}

func (e *VFCommandError) Unwrap() error { return e.Err }

// joinErrors aggregates per-device failures, nil when errs holds none
func joinErrors(errs []error) error {
	return stderrors.Join(errs...)
}
