package screen

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// UI is a full-screen display of a title, summary lines, phases with check
// marks and a status block.
type UI struct {
	mu      sync.Mutex
	s       tcell.Screen
	restore bool
	// onInterrupt runs on Ctrl+C or Esc. The screen swallows the terminal's
	// own interrupt key while it is up.
	onInterrupt func()

	title        string
	phases       []string
	phaseDoneMap map[string]bool
	summaryLines []string
	statusLines  []string
}

// NewUI initializes s and takes it over until Close. onInterrupt may be nil.
func NewUI(s tcell.Screen, onInterrupt func()) (*UI, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{s: s, onInterrupt: onInterrupt, phaseDoneMap: make(map[string]bool)}
	go u.eventLoop(s)
	return u, nil
}

// Close restores the terminal.
func (u *UI) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return
	}
	u.s.Fini()
	u.s = nil
	if u.restore {
		fmt.Print("\033[?1049l\033[?25h")
	}
}

func putStr(s tcell.Screen, x, y int, str string) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		s.SetContent(pos, y, r, nil, tcell.StyleDefault)
	}
}

// draw must be called with u.mu held.
func (u *UI) draw() {
	if u.s == nil {
		return
	}
	u.s.Clear()
	w, h := u.s.Size()
	y := 0

	if u.title != "" {
		putStr(u.s, 0, y, strings.Repeat("═", w))
		putStr(u.s, (w-len([]rune(u.title)))/2, y, u.title)
		y++
	}
	for _, line := range u.summaryLines {
		if y >= h {
			break
		}
		putStr(u.s, 0, y, line)
		y++
	}

	if len(u.phases) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w))
		putStr(u.s, 2, y, " Phase ")
		y++
		for _, p := range u.phases {
			if y >= h {
				break
			}
			mark := ' '
			if u.phaseDoneMap[strings.ToLower(p)] {
				mark = '✓'
			}
			putStr(u.s, 0, y, fmt.Sprintf("[%c] %s", mark, p))
			y++
		}
	}

	if len(u.statusLines) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w))
		putStr(u.s, 2, y, " Status ")
		y++
		for _, line := range u.statusLines {
			if y >= h {
				break
			}
			putStr(u.s, 0, y, line)
			y++
		}
	}
	u.s.Show()
}

func (u *UI) Begin(title string, phases []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.title = title
	u.phases = append([]string(nil), phases...)
	u.phaseDoneMap = make(map[string]bool)
	u.statusLines = nil
	u.draw()
}

// PhaseDone marks a phase complete. Phase names compare case-insensitively.
func (u *UI) PhaseDone(phase string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.phaseDoneMap[strings.ToLower(phase)] = true
	u.draw()
}

func (u *UI) Status(lines ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statusLines = append([]string(nil), lines...)
	u.draw()
}

// SetSummary sets the lines shown under the title.
func (u *UI) SetSummary(lines ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.summaryLines = append([]string(nil), lines...)
	u.draw()
}

func (u *UI) eventLoop(s tcell.Screen) {
	for {
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyCtrlC || ev.Key() == tcell.KeyEscape {
				if u.onInterrupt != nil {
					u.onInterrupt()
				}
			}
		case *tcell.EventResize:
			u.mu.Lock()
			if u.s != nil {
				u.s.Sync()
			}
			u.mu.Unlock()
		case nil:
			return
		}
	}
}

// TUI opens a UI when the workflow begins and falls back to plain text when
// no terminal screen can be opened.
type TUI struct {
	// NewScreen defaults to tcell.NewScreen.
	NewScreen func() (tcell.Screen, error)
	// Fallback receives progress when the screen cannot be opened.
	Fallback io.Writer
	// OnInterrupt runs when the operator presses Ctrl+C or Esc on the
	// screen.
	OnInterrupt func()

	mu    sync.Mutex
	ui    *UI
	plain *Plain
}

// reporter must be called with t.mu held.
func (t *TUI) reporter() Reporter {
	if t.ui != nil {
		return t.ui
	}
	if t.plain != nil {
		return t.plain
	}
	return &Plain{Out: io.Discard}
}

func (t *TUI) Begin(title string, phases []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ui == nil && t.plain == nil {
		newScreen, restore := t.NewScreen, false
		if newScreen == nil {
			newScreen, restore = tcell.NewScreen, true
		}
		s, err := newScreen()
		if err == nil {
			t.ui, err = NewUI(s, t.OnInterrupt)
		}
		if err != nil {
			t.plain = &Plain{Out: t.Fallback}
			fmt.Fprintf(t.Fallback, "full-screen display unavailable (%v)\n", err)
		} else {
			t.ui.restore = restore
		}
	}
	t.reporter().Begin(title, phases)
}

func (t *TUI) PhaseDone(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter().PhaseDone(phase)
}

func (t *TUI) Status(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter().Status(lines...)
}

func (t *TUI) SetSummary(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter().SetSummary(lines...)
}

func (t *TUI) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ui != nil {
		t.ui.Close()
		t.ui = nil
	}
}
