package pipeline

import (
	"strings"
	"sync"
)

// Transcript accumulates the human-readable record of a run: stage
// transitions and every line the restore command prints. It is safe for
// concurrent use so readers can tail it while the restore streams.
type Transcript struct {
	mu    sync.Mutex
	lines []string
}

func (t *Transcript) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
}

// Lines returns a copy of everything recorded so far.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Since returns the lines recorded after offset, for incremental tailing.
// An offset at or past the end returns nil.
func (t *Transcript) Since(offset int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.lines) {
		return nil
	}
	out := make([]string, len(t.lines)-offset)
	copy(out, t.lines[offset:])
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
