// Package udev maintains the persistent udev rule files that re-apply PF
// naming and VF counts at boot.
package udev

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileHeader is the first line of every rule file this package writes
const FileHeader = "# This file is autogenerated by os-net-config"

var (
	pfRuleRe     = regexp.MustCompile(`^SUBSYSTEM=="net", ACTION=="add", DRIVERS=="\?\*", KERNELS=="([^"]+)", NAME="[^"]*"$`)
	legacyRuleRe = regexp.MustCompile(`^KERNEL=="([^"]+)", RUN\+="[^"]*"$`)
)

// RuleFileError reports an I/O failure on a rule file. It is fatal to a run
// since boot-time policy can no longer be trusted.
type RuleFileError struct {
	Path string
	Err  error
}

func (e *RuleFileError) Error() string {
	return fmt.Sprintf("rule file %s: %v", e.Path, e.Err)
}

func (e *RuleFileError) Unwrap() error { return e.Err }

// PFRule renders the naming rule for the PF at pciAddress
func PFRule(pciAddress, name string) string {
	return fmt.Sprintf(`SUBSYSTEM=="net", ACTION=="add", DRIVERS=="?*", KERNELS=="%s", NAME="%s"`, pciAddress, name)
}

// LegacyRule renders the rule that runs helper with the VF count when the
// PF named name is added
func LegacyRule(helper, name string, numvfs uint) string {
	return fmt.Sprintf(`KERNEL=="%s", RUN+="%s -n %%k:%d"`, name, helper, numvfs)
}

type ruleLine struct {
	key  string
	text string
}

// RuleFile is a rule file whose rule lines are keyed by the first capture
// group of its pattern. Lines that do not match are kept verbatim.
type RuleFile struct {
	path    string
	pattern *regexp.Regexp
}

// NewPFRuleFile returns the naming rule file keyed by PCI address
func NewPFRuleFile(path string) *RuleFile {
	return &RuleFile{path: path, pattern: pfRuleRe}
}

// NewLegacyRuleFile returns the VF count rule file keyed by kernel name
func NewLegacyRuleFile(path string) *RuleFile {
	return &RuleFile{path: path, pattern: legacyRuleRe}
}

// Path returns the location of the rule file
func (f *RuleFile) Path() string { return f.path }

// read parses the rule file. The header line is added when the file lacks
// it, in which case fixed is true.
func (f *RuleFile) read() (lines []ruleLine, fixed bool, err error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return []ruleLine{{text: FileHeader}}, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return []ruleLine{{text: FileHeader}}, true, nil
	}

	for _, text := range strings.Split(content, "\n") {
		line := ruleLine{text: text}
		if m := f.pattern.FindStringSubmatch(text); m != nil {
			line.key = m[1]
		}
		lines = append(lines, line)
	}
	if lines[0].text != FileHeader {
		lines = append([]ruleLine{{text: FileHeader}}, lines...)
		fixed = true
	}
	return lines, fixed, nil
}

// Upsert makes rule the only line for key. It reports whether the file was
// rewritten; a file that already holds exactly rule for key, and a header,
// is left untouched.
func (f *RuleFile) Upsert(key, rule string) (bool, error) {
	lines, dirty, err := f.read()
	if err != nil {
		return false, &RuleFileError{Path: f.path, Err: errors.Wrap(err, "read")}
	}

	found := false
	for i := range lines {
		if lines[i].key != key {
			continue
		}
		if found {
			// duplicate from a hand edit, drop it
			lines[i].text = ""
			dirty = true
			continue
		}
		found = true
		if lines[i].text != rule {
			lines[i].text = rule
			dirty = true
		}
	}
	if !found {
		lines = append(lines, ruleLine{key: key, text: rule})
		dirty = true
	}
	if !dirty {
		return false, nil
	}

	var b strings.Builder
	for _, l := range lines {
		if l.key != "" && l.text == "" {
			continue
		}
		b.WriteString(l.text)
		b.WriteByte('\n')
	}

	if err := writeAtomic(f.path, []byte(b.String())); err != nil {
		return false, &RuleFileError{Path: f.path, Err: err}
	}
	return true, nil
}

// Keys returns the rule keys in file order
func (f *RuleFile) Keys() ([]string, error) {
	lines, _, err := f.read()
	if err != nil {
		return nil, &RuleFileError{Path: f.path, Err: errors.Wrap(err, "read")}
	}
	var keys []string
	for _, l := range lines {
		if l.key != "" {
			keys = append(keys, l.key)
		}
	}
	return keys, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename temp file")
}

// PCIAddressLookup resolves the PCI address of a network interface
type PCIAddressLookup func(ifname string) (string, error)

// Store owns the PF naming rules and the legacy VF count rules
type Store struct {
	pfRules     *RuleFile
	legacyRules *RuleFile
	helper      string
	pciAddress  PCIAddressLookup
	log         logrus.FieldLogger
}

// NewStore returns a Store over the two rule files. helper is the command
// legacy rules run and lookup resolves PF PCI addresses.
func NewStore(pfRulePath, legacyRulePath, helper string, lookup PCIAddressLookup, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		pfRules:     NewPFRuleFile(pfRulePath),
		legacyRules: NewLegacyRuleFile(legacyRulePath),
		helper:      helper,
		pciAddress:  lookup,
		log:         log,
	}
}

// AddPFRule pins the name of PF name to its PCI address
func (s *Store) AddPFRule(name string) (bool, error) {
	addr, err := s.pciAddress(name)
	if err != nil {
		return false, errors.Wrapf(err, "failed to resolve PCI address of %s", name)
	}

	changed, err := s.pfRules.Upsert(addr, PFRule(addr, name))
	if err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{
		"pf":      name,
		"pci":     addr,
		"changed": changed,
	}).Debug("pf naming rule")
	return changed, nil
}

// AddLegacyRule records numvfs as the boot-time VF count of PF name
func (s *Store) AddLegacyRule(name string, numvfs uint) (bool, error) {
	changed, err := s.legacyRules.Upsert(name, LegacyRule(s.helper, name, numvfs))
	if err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{
		"pf":      name,
		"numvfs":  numvfs,
		"changed": changed,
	}).Debug("legacy numvfs rule")
	return changed, nil
}
