// ABOUTME: Server TUI for displaying channels, buffer usage and listeners
// ABOUTME: Real-time broadcast status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{} // Signal to stop the server

	mu     sync.Mutex
	closed bool
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name        string
	Addr        string
	BroadcastID uint32
	Preset      string
	Container   string
	Frames      int
	Duration    time.Duration // container playback length
	Loops       uint64
	PoolInUse   int
	PoolSize    int
	PoolWaits   uint64
	Channels    []ChannelInfo
	Listeners   []ListenerInfo
}

// ChannelInfo holds channel counters for display
type ChannelInfo struct {
	Index       int
	State       string
	Sent        uint64
	Failures    uint64
	Underruns   uint64
	Transmitted uint64
}

// ListenerInfo holds listener information for display
type ListenerInfo struct {
	Name    string
	ID      string
	Since   time.Duration
	Backlog int
}

// tuiModel is the bubbletea model for server TUI
type tuiModel struct {
	status    ServerStatus
	poolBar   progress.Model
	startTime time.Time
	quitting  bool
	quitChan  chan struct{} // Channel to signal server stop
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(
		tickEvery(),
	)
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Stopping broadcast...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	sectionStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	warnStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("203"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("lc3cast Broadcast"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Broadcast", fmt.Sprintf("%s (ID 0x%06X)", m.status.Name, m.status.BroadcastID))
	field("Address", m.status.Addr)
	field("Preset", m.status.Preset)
	field("Container", fmt.Sprintf("%s (%d frames, %v, looped %d times)", m.status.Container, m.status.Frames, m.status.Duration, m.status.Loops))
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())

	b.WriteString(headerStyle.Render("Buffers: "))
	ratio := 0.0
	if m.status.PoolSize > 0 {
		ratio = float64(m.status.PoolInUse) / float64(m.status.PoolSize)
	}
	b.WriteString(m.poolBar.ViewAs(ratio))
	b.WriteString(valueStyle.Render(fmt.Sprintf(" %d/%d in flight, %d waits", m.status.PoolInUse, m.status.PoolSize, m.status.PoolWaits)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Channels (%d)", len(m.status.Channels))))
	b.WriteString("\n\n")
	for _, ch := range m.status.Channels {
		b.WriteString(fmt.Sprintf("  • %d ", ch.Index))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%-9s sent %d, transmitted %d", ch.State, ch.Sent, ch.Transmitted)))
		if ch.Failures > 0 || ch.Underruns > 0 {
			b.WriteString(warnStyle.Render(fmt.Sprintf(" (%d failures, %d underruns)", ch.Failures, ch.Underruns)))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Listeners (%d)", len(m.status.Listeners))))
	b.WriteString("\n\n")

	if len(m.status.Listeners) == 0 {
		b.WriteString(valueStyle.Render("  No listeners connected"))
		b.WriteString("\n")
	} else {
		for _, l := range m.status.Listeners {
			b.WriteString(fmt.Sprintf("  • %s", l.Name))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %v, backlog %d)", l.ID, l.Since.Round(time.Second), l.Backlog)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the TUI until it quits
func (t *ServerTUI) Start(name, addr string) error {
	m := tuiModel{
		status: ServerStatus{
			Name: name,
			Addr: addr,
		},
		poolBar: progress.New(
			progress.WithGradient("#5A56E0", "#EE6FF8"),
			progress.WithWidth(20),
			progress.WithoutPercentage(),
		),
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for status := range t.updates {
			if t.program != nil {
				t.program.Send(statusMsg(status))
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	select {
	case t.updates <- status:
	default:
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true

	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
