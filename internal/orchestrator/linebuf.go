package orchestrator

import "strings"

// lineAccumulator turns a sequence of cumulative byte-buffer snapshots
// (which is what guest-exec-status returns: the full captured stream so
// far, not a delta) into complete lines, buffering any trailing partial
// line until either more data or a final flush arrives.
type lineAccumulator struct {
	seen    int // bytes of the cumulative buffer already consumed
	pending string
}

// feed accepts the latest cumulative buffer and returns any newly
// complete lines it contains.
func (a *lineAccumulator) feed(cumulative []byte) []string {
	if len(cumulative) <= a.seen {
		return nil
	}
	a.pending += string(cumulative[a.seen:])
	a.seen = len(cumulative)

	var lines []string
	for {
		idx := strings.IndexByte(a.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, a.pending[:idx])
		a.pending = a.pending[idx+1:]
	}
	return lines
}

// flush returns any buffered partial line (no trailing newline ever
// arrived) and clears it. Called once a command has exited.
func (a *lineAccumulator) flush() []string {
	if a.pending == "" {
		return nil
	}
	line := a.pending
	a.pending = ""
	return []string{line}
}
