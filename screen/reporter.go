// Package screen shows workflow progress: phases with check marks and a few
// status lines, either as plain text or full screen.
package screen

import (
	"fmt"
	"io"
)

// Reporter receives progress from a running workflow. It is only used after
// the operator has confirmed; prompts are never shown through it.
type Reporter interface {
	Begin(title string, phases []string)
	PhaseDone(phase string)
	Status(lines ...string)
	// SetSummary replaces the lines describing the target.
	SetSummary(lines ...string)
	Close()
}

// Plain writes progress as lines of text.
type Plain struct {
	Out io.Writer
}

func (p *Plain) Begin(title string, phases []string) {
	fmt.Fprintf(p.Out, "\n== %s ==\n", title)
}

func (p *Plain) PhaseDone(phase string) {
	fmt.Fprintf(p.Out, "[✓] %s\n", phase)
}

func (p *Plain) Status(lines ...string) {
	for _, l := range lines {
		fmt.Fprintf(p.Out, "    %s\n", l)
	}
}

func (p *Plain) SetSummary(lines ...string) {
	for _, l := range lines {
		fmt.Fprintf(p.Out, "  %s\n", l)
	}
}

func (p *Plain) Close() {}
