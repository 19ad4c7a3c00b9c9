// Package ui is a minimal line-oriented event consumer, not a full TUI:
// it prints one line per event to an io.Writer, prefixed by the target
// name and stage. It exists so cmd/vmtest has somewhere to send events
// without pulling in a terminal UI library the examples never needed for
// a batch test harness.
package ui

import (
	"fmt"
	"io"

	"github.com/danobi/vmtest/internal/orchestrator"
)

// Printer renders a target's event stream to w as it arrives.
type Printer struct {
	w      io.Writer
	target string
}

// NewPrinter returns a Printer that labels every line with target.
func NewPrinter(w io.Writer, target string) *Printer {
	return &Printer{w: w, target: target}
}

// Consume prints events from ch until it is closed, returning the
// command's exit code and whether the run as a whole succeeded.
func (p *Printer) Consume(ch <-chan orchestrator.Event) (exitCode int, ok bool) {
	ok = true
	for ev := range ch {
		switch ev.Kind {
		case orchestrator.BootStart:
			fmt.Fprintf(p.w, "[%s] booting\n", p.target)
		case orchestrator.Boot:
			fmt.Fprintf(p.w, "[%s] boot| %s\n", p.target, ev.Line)
		case orchestrator.BootEnd:
			if ev.Err != nil {
				fmt.Fprintf(p.w, "[%s] boot failed: %v\n", p.target, ev.Err)
				ok = false
				return 0, ok
			}
			fmt.Fprintf(p.w, "[%s] boot ok\n", p.target)
		case orchestrator.SetupStart:
			fmt.Fprintf(p.w, "[%s] setting up shared mounts\n", p.target)
		case orchestrator.Setup:
			fmt.Fprintf(p.w, "[%s] setup| %s\n", p.target, ev.Line)
		case orchestrator.SetupEnd:
			if ev.Err != nil {
				fmt.Fprintf(p.w, "[%s] setup failed: %v\n", p.target, ev.Err)
				ok = false
				return 0, ok
			}
			fmt.Fprintf(p.w, "[%s] setup ok\n", p.target)
		case orchestrator.CommandStart:
			fmt.Fprintf(p.w, "[%s] running command\n", p.target)
		case orchestrator.Command:
			fmt.Fprintf(p.w, "[%s] %s\n", p.target, ev.Line)
		case orchestrator.CommandEnd:
			if ev.Err != nil {
				fmt.Fprintf(p.w, "[%s] command failed: %v\n", p.target, ev.Err)
				ok = false
				return 0, ok
			}
			fmt.Fprintf(p.w, "[%s] command exited %d\n", p.target, ev.ExitCode)
			exitCode = ev.ExitCode
			ok = ev.ExitCode == 0
		}
	}
	return exitCode, ok
}
