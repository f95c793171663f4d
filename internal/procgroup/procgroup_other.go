// SPDX-License-Identifier: MIT

//go:build !linux

package procgroup

import (
	"os"
	"os/exec"
)

func set(cmd *exec.Cmd) {
	// Best effort: no group semantics outside linux.
}

func signalGroup(pid int, force bool) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if force {
		if err := proc.Kill(); err != nil && err != os.ErrProcessDone {
			return nil
		}
		return nil
	}
	_ = proc.Signal(os.Interrupt)
	return nil
}
