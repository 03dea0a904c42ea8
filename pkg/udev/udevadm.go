package udev

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"sriov-config/pkg/executor"
)

const udevadm = "udevadm"

// Controller asks udevd to pick up rule changes
type Controller struct {
	runner executor.Executor
	log    logrus.FieldLogger
}

// NewController returns a Controller that runs udevadm through runner
func NewController(runner executor.Executor, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{runner: runner, log: log}
}

// ReloadRules makes udevd re-read the rule files
func (c *Controller) ReloadRules() error {
	c.log.Info("reloading udev rules")
	if _, err := c.runner.Run(udevadm, []string{"control", "--reload-rules"}); err != nil {
		return errors.Wrap(err, "failed to reload udev rules")
	}
	return nil
}

// TriggerRules replays add events for network devices so renamed PFs take
// their new names without a reboot
func (c *Controller) TriggerRules() error {
	c.log.Info("triggering udev rules for net devices")
	if _, err := c.runner.Run(udevadm, []string{"trigger", "--action=add", "--attr-match=subsystem=net"}); err != nil {
		return errors.Wrap(err, "failed to trigger udev rules")
	}
	return nil
}
