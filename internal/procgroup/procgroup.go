// SPDX-License-Identifier: MIT

// Package procgroup spawns and signals external transcoder processes as
// whole process groups, so that a killed ffmpeg takes its forked helpers
// with it.
package procgroup

import (
	"os/exec"
)

// Set configures the command to start in a new process group.
// Mandatory for Signal to reach the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Signal delivers a termination (or, with force, a kill) signal to a
// process group by pid without waiting. The caller observes exit through
// its own wait handle or by polling; already-gone pids are a no-op.
func Signal(pid int, force bool) error {
	return signalGroup(pid, force)
}
