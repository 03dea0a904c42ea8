package pkg

import (
	"bytes"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestLeveledLogging(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	if err := SetLogLevelFromString("warn"); err != nil {
		t.Fatalf("SetLogLevelFromString failed: %v", err)
	}
	defer SetLogLevelFromString("info")

	Info("numvfs unchanged for %s", "p2p1")
	Warn("vf count capped for %s", "p2p2")
	Error("failed to write rule file")

	output := buf.String()
	if strings.Contains(output, "numvfs unchanged") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(output, "vf count capped for p2p2") {
		t.Error("Warning message not found in output")
	}
	if !strings.Contains(output, "failed to write rule file") {
		t.Error("Error message not found in output")
	}
}

func TestComponentLogging(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Component("reconciler").WithFields(log.Fields{
		"pf":     "p2p1",
		"numvfs": 10,
	}).Info("numvfs set")

	output := buf.String()
	if !strings.Contains(output, "component=reconciler") {
		t.Error("component field not found in structured log")
	}
	if !strings.Contains(output, "pf=p2p1") {
		t.Error("pf field not found in structured log")
	}
	if !strings.Contains(output, "numvfs=10") {
		t.Error("numvfs field not found in structured log")
	}
}

func TestSetLogLevelFromString(t *testing.T) {
	defer SetLogLevelFromString("info")

	for _, level := range []string{"debug", "info", "warn", "warning", "error", "DEBUG"} {
		if err := SetLogLevelFromString(level); err != nil {
			t.Errorf("SetLogLevelFromString(%q) returned error: %v", level, err)
		}
	}

	if err := SetLogLevelFromString("chatty"); err == nil {
		t.Error("Expected error for invalid log level")
	}

	_ = SetLogLevelFromString("debug")
	if !IsDebugEnabled() {
		t.Error("Expected debug to be enabled")
	}
}
