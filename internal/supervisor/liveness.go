// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// processMatches reports whether pid names an OS-alive process whose
// executable name matches the supervised binary. A bare liveness probe is
// not enough: after a crash the pid can be reassigned to an arbitrary
// process, and acting on it would signal a stranger.
func processMatches(ctx context.Context, pid int, binPath string) bool {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		// Alive but unreadable, assume it is ours rather than orphan a
		// running transcoder.
		return true
	}
	want := filepath.Base(binPath)
	return name == want || strings.HasPrefix(want, name)
}
