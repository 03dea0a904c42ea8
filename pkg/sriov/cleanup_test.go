package sriov

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCleaner(t *testing.T) *LegacyCleaner {
	root := t.TempDir()
	return &LegacyCleaner{
		ResetSRIOVRules: filepath.Join(root, "etc/udev/rules.d/70-tripleo-reset-sriov.rules"),
		AllocateVFsFile: filepath.Join(root, "etc/sysconfig/allocate_vfs"),
		IfupLocalFile:   filepath.Join(root, "sbin/ifup-local"),
	}
}

func writeTestFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
}

func assertMissing(t *testing.T, path string) {
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func TestCleanupRemovesLegacyFiles(t *testing.T) {
	c := newTestCleaner(t)
	writeTestFile(t, c.ResetSRIOVRules, `KERNEL=="p2p1", RUN+="/etc/sysconfig/allocate_vfs"`+"\n")
	writeTestFile(t, c.AllocateVFsFile, "#!/bin/bash\necho 4 > /sys/class/net/p2p1/device/sriov_numvfs\n")
	writeTestFile(t, c.IfupLocalFile, "#!/bin/bash\n/etc/sysconfig/allocate_vfs $1")

	require.NoError(t, c.Cleanup())
	assertMissing(t, c.ResetSRIOVRules)
	assertMissing(t, c.AllocateVFsFile)
	assertMissing(t, c.IfupLocalFile)
}

func TestCleanupIfupLocalKeepsOtherLines(t *testing.T) {
	c := newTestCleaner(t)
	writeTestFile(t, c.IfupLocalFile, "#!/bin/bash\n/etc/sysconfig/allocate_vfs $1\n/usr/sbin/ifup eth0")

	require.NoError(t, c.Cleanup())
	data, err := os.ReadFile(c.IfupLocalFile)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\n/usr/sbin/ifup eth0", string(data))

	info, err := os.Stat(c.IfupLocalFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestCleanupIfupLocalOnlySnippet(t *testing.T) {
	for name, content := range map[string]string{
		"no shebang":      "/etc/sysconfig/allocate_vfs $1\n",
		"blank lines":     "#!/bin/bash\n\n/etc/sysconfig/allocate_vfs $1\n\n",
		"different shell": "#!/bin/sh\n/etc/sysconfig/allocate_vfs $1",
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestCleaner(t)
			writeTestFile(t, c.IfupLocalFile, content)

			require.NoError(t, c.Cleanup())
			assertMissing(t, c.IfupLocalFile)
		})
	}
}

func TestCleanupIfupLocalWithoutSnippet(t *testing.T) {
	c := newTestCleaner(t)
	content := "#!/bin/bash\n/usr/sbin/ifup eth0\n"
	writeTestFile(t, c.IfupLocalFile, content)

	require.NoError(t, c.Cleanup())
	data, err := os.ReadFile(c.IfupLocalFile)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestCleanupNothingToDo(t *testing.T) {
	c := newTestCleaner(t)

	require.NoError(t, c.Cleanup())
	require.NoError(t, c.Cleanup())
	assertMissing(t, c.ResetSRIOVRules)
	assertMissing(t, c.AllocateVFsFile)
	assertMissing(t, c.IfupLocalFile)
}
