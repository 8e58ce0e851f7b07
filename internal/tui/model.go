// Package tui renders the progress adapter in a terminal, either as an
// interactive bubbletea program or as plain lines for non-TTY output.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/adapter"
)

// Options configures Run.
type Options struct {
	Keyword     string
	Limit       string
	Stay        bool
	ReloadDelay time.Duration
	Logger      *zap.Logger
}

type stateMsg struct{ state adapter.UIState }

type alertMsg struct{ text string }

type reloadMsg struct{}

type activatedMsg struct{ err error }

// model is the bubbletea model wrapping one adapter.
type model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	adapter  *adapter.Adapter
	keyword  string
	limit    string
	stay     bool
	bar      progress.Model
	theme    Theme
	state    adapter.UIState
	alert    string
	err      error
	quitting bool
}

func newModel(ctx context.Context, a *adapter.Adapter, opts Options) model {
	ctx, cancel := context.WithCancel(ctx)
	return model{
		ctx:     ctx,
		cancel:  cancel,
		adapter: a,
		keyword: opts.Keyword,
		limit:   opts.Limit,
		stay:    opts.Stay,
		bar:     progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:   defaultTheme,
		state:   adapter.InitialState(),
	}
}

func (m model) Init() tea.Cmd {
	return m.activate()
}

func (m model) activate() tea.Cmd {
	a, ctx, keyword, limit := m.adapter, m.ctx, m.keyword, m.limit
	return func() tea.Msg {
		return activatedMsg{err: a.Activate(ctx, keyword, limit)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		case "enter", "r":
			if m.state.Phase.InFlight() {
				return m, nil
			}
			m.alert = ""
			return m, m.activate()
		}

	case stateMsg:
		m.state = msg.state
		return m, nil

	case alertMsg:
		m.alert = msg.text
		return m, nil

	case reloadMsg:
		m.state = adapter.InitialState()
		m.err = nil
		if !m.stay {
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case activatedMsg:
		if errors.Is(msg.err, adapter.ErrJobInProgress) {
			return m, nil
		}
		m.err = msg.err
		if msg.err != nil && !m.stay {
			m.cancel()
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m model) View() tea.View {
	return tea.NewView(m.render())
}

func (m model) render() string {
	var b strings.Builder
	if m.alert != "" {
		b.WriteString(m.theme.errorStyle().Render(m.alert))
		b.WriteString("\n")
	}
	if m.state.Visible {
		b.WriteString(m.bar.ViewAs(m.state.BarFraction()))
		b.WriteString("\n")
		b.WriteString(m.statusLine())
		b.WriteString("\n")
	}
	if m.stay && !m.state.Phase.InFlight() {
		b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf("enter: scrape %q again, q: quit", m.keyword)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) statusLine() string {
	switch m.state.Phase {
	case adapter.PhaseDone:
		return m.theme.successStyle().Render(m.state.StatusText)
	case adapter.PhaseFailed:
		return m.theme.errorStyle().Render(m.state.StatusText)
	default:
		return m.theme.statusStyle().Render(m.state.StatusText)
	}
}

// programView forwards adapter updates into a running program.
type programView struct {
	program *tea.Program
}

func (v *programView) Render(state adapter.UIState) { v.program.Send(stateMsg{state: state}) }
func (v *programView) Alert(msg string)             { v.program.Send(alertMsg{text: msg}) }
func (v *programView) Reload()                      { v.program.Send(reloadMsg{}) }

// Run drives one interactive session. It returns the adapter's error for
// the last activation, or nil when the user quits.
func Run(ctx context.Context, jc adapter.JobClient, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	view := &programView{}
	a := adapter.New(jc, view, adapter.WithReloadDelay(opts.ReloadDelay), adapter.WithLogger(logger))
	m := newModel(ctx, a, opts)
	p := tea.NewProgram(m)
	view.program = p

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if fm, ok := final.(model); ok {
		fm.cancel()
		if fm.quitting {
			return nil
		}
		return fm.err
	}
	return nil
}
