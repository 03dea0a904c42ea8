package sriov

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// NumVFsSetter is the part of the device layer used by the udev helper
type NumVFsSetter interface {
	GetNumVFs(pf string) uint
	SetNumVFs(pf string, n uint) error
}

// ParseNumvfsArg splits a name:count argument
func ParseNumvfsArg(arg string) (string, uint, error) {
	i := strings.LastIndex(arg, ":")
	if i < 0 {
		return "", 0, &ParseError{Arg: arg, Reason: "expected <name>:<count>"}
	}
	name, count := arg[:i], arg[i+1:]
	if name == "" {
		return "", 0, &ParseError{Arg: arg, Reason: "empty interface name"}
	}
	n, err := strconv.ParseUint(count, 10, 32)
	if err != nil {
		return "", 0, &ParseError{Arg: arg, Reason: "count is not an unsigned integer"}
	}
	return name, uint(n), nil
}

// ConfigureNumvfs is run by udev when a PF shows up. It sets the VF count
// only if the PF has none yet, so replayed add events never recreate VFs
// that may already be in use.
func ConfigureNumvfs(dev NumVFsSetter, arg string, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	name, n, err := ParseNumvfsArg(arg)
	if err != nil {
		return err
	}
	log = log.WithFields(logrus.Fields{"pf": name, "numvfs": n})

	if current := dev.GetNumVFs(name); current != 0 {
		log.WithField("current", current).Info("vfs already configured, nothing to do")
		return nil
	}
	if err := dev.SetNumVFs(name, n); err != nil {
		return err
	}
	if got := dev.GetNumVFs(name); got != n {
		log.WithField("current", got).Warn("numvfs differs from the requested count")
	}
	return nil
}
