// Package tui is a live terminal view of a running daemon.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/client"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
)

const timeoutStep = 30

// Feed delivers daemon updates as Bubble Tea messages.
type Feed interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop() tea.Cmd
}

// Actions performs admin requests against the daemon.
type Actions interface {
	SetTimeout(ctx context.Context, seconds int) (string, error)
	Disconnect(ctx context.Context, slot int) (string, error)
}

type tickMsg time.Time

type actionResultMsg struct {
	text    string
	err     error
	timeout int
}

// row is a controller plus the moment its countdown was last synced.
type row struct {
	entry  status.Entry
	seenAt time.Time
}

// Model is the root Bubble Tea model.
type Model struct {
	feed    Feed
	actions Actions
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time

	keys  KeyMap
	help  help.Model
	table table.Model
	bar   statusBar

	width  int
	height int

	rows    map[string]*row // by device path
	order   []string
	timeout int

	connected bool
	flash     string
}

func New(feed Feed, actions Actions) Model {
	ctx, cancel := context.WithCancel(context.Background())
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	return Model{
		feed:    feed,
		actions: actions,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		table:   t,
		rows:    make(map[string]*row),
		timeout: config.DefaultIdleTimeout,
	}
}

func columns(width int) []table.Column {
	name := width - 6 - 19 - 9 - 10 - 16 - 12
	if name < 16 {
		name = 16
	}
	return []table.Column{
		{Title: "Player", Width: 6},
		{Title: "Controller", Width: name},
		{Title: "MAC", Width: 19},
		{Title: "Battery", Width: 9},
		{Title: "Idle in", Width: 10},
		{Title: "State", Width: 16},
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the websocket connection and the countdown ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.feed.Listen(m.ctx), tick())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width
		m.help.Width = msg.Width
		m.table.SetColumns(columns(msg.Width))
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.refreshRows()
		return m, tick()

	case actionResultMsg:
		m.flash = msg.text
		if msg.text == "" && msg.err != nil {
			m.flash = "error: " + msg.err.Error()
		}
		if msg.err == nil && msg.timeout > 0 {
			m.timeout = msg.timeout
			m.bar.IdleTimeout = msg.timeout
		}
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		m.bar.Connected = true
		return m, m.feed.ReadLoop()

	case client.WSDisconnectedMsg:
		m.connected = false
		m.bar.Connected = false
		return m, m.feed.Listen(m.ctx)

	case client.WSSnapshotMsg:
		now := m.now()
		m.rows = make(map[string]*row, len(msg.Payload.Controllers))
		for _, e := range msg.Payload.Controllers {
			m.rows[e.Path] = &row{entry: e, seenAt: now}
		}
		m.timeout = msg.Payload.IdleTimeout
		m.bar.IdleTimeout = msg.Payload.IdleTimeout
		m.refreshRows()
		return m, m.feed.ReadLoop()

	case client.WSDeltaMsg:
		m.applyDelta(msg)
		m.refreshRows()
		return m, m.feed.ReadLoop()

	case client.WSHealthMsg:
		h := msg.Payload
		m.bar.Health = &h
		return m, m.feed.ReadLoop()
	}

	return m, nil
}

func (m *Model) applyDelta(msg client.WSDeltaMsg) {
	now := m.now()
	for _, s := range msg.Payload.Added {
		m.rows[s.Path] = &row{entry: entryFromSession(s, m.timeout), seenAt: now}
	}
	for _, path := range msg.Payload.Removed {
		delete(m.rows, path)
	}
	for _, s := range msg.Payload.Renumbered {
		if r, ok := m.rows[s.Path]; ok {
			r.entry.Player = s.PlayerSlot
		}
	}
}

// entryFromSession fills in what a delta carries; battery arrives with the
// next snapshot.
func entryFromSession(s *session.Session, timeout int) status.Entry {
	return status.Entry{
		Path:          s.Path,
		HardwareID:    s.HardwareID,
		Name:          s.DisplayName,
		Player:        s.PlayerSlot,
		Battery:       battery.Unknown,
		IdleRemaining: timeout,
		State:         s.State,
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		e, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.flash = fmt.Sprintf("Disconnecting Player %d...", e.Player)
		return m, m.disconnect(e.Player)

	case key.Matches(msg, m.keys.TimeoutUp):
		return m, m.setTimeout(m.timeout + timeoutStep)

	case key.Matches(msg, m.keys.TimeoutDown):
		return m, m.setTimeout(max(m.timeout-timeoutStep, config.MinIdleTimeout))
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) disconnect(slot int) tea.Cmd {
	ctx, actions := m.ctx, m.actions
	return func() tea.Msg {
		text, err := actions.Disconnect(ctx, slot)
		return actionResultMsg{text: text, err: err}
	}
}

func (m Model) setTimeout(seconds int) tea.Cmd {
	ctx, actions := m.ctx, m.actions
	return func() tea.Msg {
		text, err := actions.SetTimeout(ctx, seconds)
		return actionResultMsg{text: text, err: err, timeout: seconds}
	}
}

func (m Model) selected() (status.Entry, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.order) {
		return status.Entry{}, false
	}
	r, ok := m.rows[m.order[i]]
	if !ok {
		return status.Entry{}, false
	}
	return r.entry, true
}

// refreshRows re-sorts the controllers and recomputes countdowns.
func (m *Model) refreshRows() {
	m.order = make([]string, 0, len(m.rows))
	for path := range m.rows {
		m.order = append(m.order, path)
	}
	sort.Slice(m.order, func(i, j int) bool {
		a, b := m.rows[m.order[i]].entry, m.rows[m.order[j]].entry
		if a.Player != b.Player {
			return a.Player < b.Player
		}
		return a.Path < b.Path
	})

	now := m.now()
	out := make([]table.Row, 0, len(m.order))
	for _, path := range m.order {
		r := m.rows[path]
		out = append(out, table.Row{
			strconv.Itoa(r.entry.Player),
			r.entry.Name,
			orDash(r.entry.HardwareID),
			r.entry.Battery,
			idleLabel(r, now),
			StateGlyph(r.entry.State) + " " + r.entry.State.String(),
		})
	}
	m.table.SetRows(out)
	m.bar.Controllers = len(m.order)
}

func idleLabel(r *row, now time.Time) string {
	if r.entry.Charging {
		return "charging"
	}
	left := r.entry.IdleRemaining - int(now.Sub(r.seenAt)/time.Second)
	if left < 0 {
		left = 0
	}
	return fmt.Sprintf("%ds", left)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if !m.connected {
		banner := StyleBanner.Render("DISCONNECTED\n\nReconnecting to the padwatch daemon...")
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, banner)
	}

	var body string
	if len(m.order) == 0 {
		body = StyleDimmed.Render("  No controllers connected.")
	} else {
		body = m.table.View()
	}

	sections := []string{
		m.bar.View(),
		body,
	}
	if m.flash != "" {
		sections = append(sections, StyleSelected.Render("  "+m.flash))
	}
	sections = append(sections, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
