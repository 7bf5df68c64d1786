package launcher

import (
	"fmt"
	"os/exec"
)

// Spawner starts a process and relinquishes it: the caller never waits on the
// child and only observes it through its debugging port.
type Spawner interface {
	Start(name string, args ...string) error
}

// DetachedSpawner launches processes via os/exec in their own session with
// stdio discarded.
type DetachedSpawner struct{}

// Start launches name without waiting for it to exit.
func (DetachedSpawner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", name, err)
	}
	// Release instead of Wait: the child is not ours to reap.
	return cmd.Process.Release()
}

// Launch builds the command line for spec and starts binary through spawner.
// It returns the arguments used.
func Launch(spawner Spawner, binary string, spec LaunchSpec) ([]string, error) {
	if spawner == nil {
		spawner = DetachedSpawner{}
	}
	args := BuildArgs(spec)
	if err := spawner.Start(binary, args...); err != nil {
		return args, err
	}
	return args, nil
}
