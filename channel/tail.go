package channel

import (
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
)

const defaultTailLines = 50

// tailLines keeps the last lines of a worker's output, without colour codes.
type tailLines struct {
	limit int

	mu    sync.Mutex
	lines []string
}

func newTailLines(limit int) *tailLines {
	if limit <= 0 {
		limit = defaultTailLines
	}
	return &tailLines{limit: limit}
}

func (t *tailLines) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, stripansi.Strip(line))
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *tailLines) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
