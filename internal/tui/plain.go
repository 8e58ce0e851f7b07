package tui

import (
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/vision2struct/internal/adapter"
)

// PlainView prints one line per status change. Alerts go to errOut.
type PlainView struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	last     string
	reloaded chan struct{}
	once     sync.Once
}

// NewPlainView builds a PlainView.
func NewPlainView(out, errOut io.Writer) *PlainView {
	return &PlainView{out: out, errOut: errOut, reloaded: make(chan struct{})}
}

// Render implements adapter.View.
func (v *PlainView) Render(state adapter.UIState) {
	if !state.Visible || state.StatusText == "" {
		return
	}
	line := fmt.Sprintf("[%3.0f%%] %s", state.BarFraction()*100, state.StatusText)
	v.mu.Lock()
	defer v.mu.Unlock()
	if line == v.last {
		return
	}
	v.last = line
	fmt.Fprintln(v.out, line)
}

// Alert implements adapter.View.
func (v *PlainView) Alert(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.errOut, msg)
}

// Reload implements adapter.View.
func (v *PlainView) Reload() {
	v.mu.Lock()
	v.last = ""
	v.mu.Unlock()
	v.once.Do(func() { close(v.reloaded) })
}

// Reloaded is closed after the first reload.
func (v *PlainView) Reloaded() <-chan struct{} {
	return v.reloaded
}
