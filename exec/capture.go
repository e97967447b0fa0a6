package exec

import (
	"strings"
	"sync"
)

// TruncationMarker replaces output beyond the configured line limit
const TruncationMarker = "... output truncated ..."

// Capture is a bounded line buffer for job output. Lines beyond the
// configured maximum are dropped; a single truncation marker is appended
// in their place and the Truncated flag is set. Safe for concurrent use.
type Capture struct {
	mu       sync.Mutex
	maxLines int
	lines    []string
	dropped  bool
}

// NewCapture creates a capture buffer holding at most maxLines lines
func NewCapture(maxLines int) *Capture {
	return &Capture{maxLines: maxLines}
}

// Print appends output. Embedded newlines split into separate lines.
func (c *Capture) Print(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, line := range strings.Split(text, "\n") {
		if len(c.lines) >= c.maxLines {
			c.dropped = true
			return
		}
		c.lines = append(c.lines, line)
	}
}

// Lines returns the captured output. When lines were dropped the
// truncation marker is the final line.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.lines), len(c.lines)+1)
	copy(out, c.lines)
	if c.dropped {
		out = append(out, TruncationMarker)
	}
	return out
}

// Truncated reports whether any output was dropped
func (c *Capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
