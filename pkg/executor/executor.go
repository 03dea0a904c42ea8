package executor

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Executor runs an external command and reports its combined output
type Executor interface {
	Run(cmd string, args []string) ([]byte, error)
}

// LocalExecutor runs commands on the host
type LocalExecutor struct {
	log logrus.FieldLogger
}

// NewLocalExecutor returns an Executor that runs commands on the host
func NewLocalExecutor(log logrus.FieldLogger) *LocalExecutor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalExecutor{log: log}
}

func (l *LocalExecutor) Run(cmd string, args []string) ([]byte, error) {
	l.log.WithField("cmd", CommandLine(cmd, args)).Debug("running command")

	var out bytes.Buffer
	c := exec.Command(cmd, args...)
	c.Stdout = &out
	c.Stderr = &out
	if err := c.Run(); err != nil {
		return out.Bytes(), errors.Wrapf(err, "%s failed: %s", CommandLine(cmd, args), strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

// CommandLine renders a command the way it would be typed in a shell
func CommandLine(cmd string, args []string) string {
	return strings.TrimSpace(cmd + " " + strings.Join(args, " "))
}
