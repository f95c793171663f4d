// SPDX-License-Identifier: MIT

package supervisor

import "sync"

// tail keeps the most recent N error-stream lines of a process for
// diagnostics. Oldest lines are dropped first.
type tail struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

func newTail(size int) *tail {
	if size <= 0 {
		size = 50
	}
	return &tail{buf: make([]string, size)}
}

func (t *tail) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = line
	t.next = (t.next + 1) % len(t.buf)
	if t.next == 0 {
		t.full = true
	}
}

// lines returns the buffered lines in arrival order.
func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		out := make([]string, t.next)
		copy(out, t.buf[:t.next])
		return out
	}
	out := make([]string, 0, len(t.buf))
	out = append(out, t.buf[t.next:]...)
	out = append(out, t.buf[:t.next]...)
	return out
}

func (t *tail) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = 0
	t.full = false
}
