//go:build windows

package launcher

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

var freePortErrors = []error{windows.WSAECONNREFUSED, windows.WSAEHOSTUNREACH}

// detach starts the child without a console in a new process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// EffectiveUID returns -1; there is no root user to special-case.
func EffectiveUID() int {
	return -1
}
