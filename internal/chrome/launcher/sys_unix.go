//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var freePortErrors = []error{unix.ECONNREFUSED, unix.EHOSTUNREACH}

// detach puts the child in its own session so it outlives the caller and
// never receives the caller's terminal signals.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// EffectiveUID returns the caller's effective user id.
func EffectiveUID() int {
	return unix.Geteuid()
}
