package sriov

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const allocateVFsLine = "/etc/sysconfig/allocate_vfs $1"

// LegacyCleaner removes the files the allocate_vfs mechanism used to leave
// on hosts
type LegacyCleaner struct {
	ResetSRIOVRules string
	AllocateVFsFile string
	IfupLocalFile   string
	Log             logrus.FieldLogger
}

// Cleanup deletes the reset rules and allocate_vfs files and strips the
// allocate_vfs call from ifup-local. Missing files are fine.
func (c *LegacyCleaner) Cleanup() error {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	var errs []error
	for _, path := range []string{c.ResetSRIOVRules, c.AllocateVFsFile} {
		removed, err := removeIfExists(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			log.WithField("path", path).Info("removed legacy sriov file")
		}
	}
	if err := c.cleanIfupLocal(log); err != nil {
		errs = append(errs, err)
	}
	return joinErrors(errs)
}

func removeIfExists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to remove %s", path)
	}
	return true, nil
}

func (c *LegacyCleaner) cleanIfupLocal(log logrus.FieldLogger) error {
	path := c.IfupLocalFile
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	lines := strings.Split(string(data), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != allocateVFsLine {
			kept = append(kept, line)
		}
	}
	if len(kept) == len(lines) {
		return nil
	}

	if isEmptyScript(kept) {
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "failed to remove %s", path)
		}
		log.WithField("path", path).Info("removed legacy ifup-local")
		return nil
	}

	if err := os.WriteFile(path, []byte(strings.Join(kept, "\n")), info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "failed to rewrite %s", path)
	}
	log.WithField("path", path).Info("removed allocate_vfs call from ifup-local")
	return nil
}

// isEmptyScript reports whether lines hold nothing but blanks and a shebang
func isEmptyScript(lines []string) bool {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#!") {
			return false
		}
	}
	return true
}
