package executor

import (
	"strings"
	"sync"
)

// FakeExecutor records every command instead of running it. Commands whose
// rendered line starts with a prefix registered through FailOn return the
// associated error.
type FakeExecutor struct {
	mu       sync.Mutex
	commands []string
	failures map[string]error
}

// NewFakeExecutor returns a FakeExecutor on which every command succeeds
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{failures: make(map[string]error)}
}

// FailOn makes commands starting with prefix fail with err
func (f *FakeExecutor) FailOn(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[prefix] = err
}

func (f *FakeExecutor) Run(cmd string, args []string) ([]byte, error) {
	line := CommandLine(cmd, args)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, line)
	for prefix, err := range f.failures {
		if strings.HasPrefix(line, prefix) {
			return []byte(err.Error()), err
		}
	}
	return nil, nil
}

// Commands returns the recorded command lines in order
func (f *FakeExecutor) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}
