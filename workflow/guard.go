package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"mkoc/screen"
)

// Guard decides what an operator interrupt (a signal, or Ctrl+C in the
// full-screen display) does. Before the destructive section it ends the
// process as a clean abort. Inside the section the first interrupt is
// refused and a repeated one forces the process down as a failure.
type Guard struct {
	// Out receives messages while no reporter is showing.
	Out io.Writer
	// Reporter receives messages inside the protected section.
	Reporter screen.Reporter
	// Exit defaults to os.Exit.
	Exit func(code int)

	mu        sync.Mutex
	protected bool
	refused   int
	cancel    context.CancelFunc
}

// NewGuard returns a guard and a context it cancels on an interrupt outside
// the protected section.
func NewGuard(parent context.Context) (*Guard, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Guard{Out: os.Stderr, cancel: cancel}, ctx
}

// Protect marks the start of the section that must not be interrupted. The
// returned func ends it.
func (g *Guard) Protect() func() {
	g.mu.Lock()
	g.protected = true
	g.refused = 0
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.protected = false
		g.mu.Unlock()
	}
}

// Interrupt handles one operator interrupt.
func (g *Guard) Interrupt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.protected {
		g.say("\nInterrupted, nothing was changed.")
		if g.cancel != nil {
			g.cancel()
		}
		g.exit(0)
		return
	}
	g.refused++
	if g.refused == 1 {
		g.say("The disk is being written and this step cannot be interrupted. Interrupt again to force quit; the disk will be left unusable.")
		return
	}
	g.say("Forced quit while writing the disk.")
	if g.Reporter != nil {
		g.Reporter.Close()
	}
	g.exit(1)
}

func (g *Guard) say(msg string) {
	if g.protected && g.Reporter != nil {
		g.Reporter.Status(msg)
		return
	}
	if g.Out != nil {
		fmt.Fprintln(g.Out, msg)
	}
}

func (g *Guard) exit(code int) {
	if g.Exit != nil {
		g.Exit(code)
		return
	}
	os.Exit(code)
}
