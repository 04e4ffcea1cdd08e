package feed

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/legio-dev/legio/internal/eventlog"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/workspace"
)

// refreshInterval is how often the feed polls the stores.
const refreshInterval = 2 * time.Second

// maxEvents caps the in-memory event window.
const maxEvents = 1000

// Panel identifies which panel has focus.
type Panel int

const (
	PanelAgents Panel = iota
	PanelFeed
)

// Model is the bubbletea model for the feed TUI.
type Model struct {
	paths workspace.Paths

	width  int
	height int

	focusedPanel  Panel
	agentViewport viewport.Model
	feedViewport  viewport.Model

	sessions []*state.Session
	events   []*eventlog.Event
	lastID   int64
	loadErr  error

	keys     KeyMap
	help     help.Model
	showHelp bool
	follow   bool
}

// NewModel creates a feed model reading from the workspace's stores.
func NewModel(paths workspace.Paths) *Model {
	h := help.New()
	h.ShowAll = false

	return &Model{
		paths:         paths,
		focusedPanel:  PanelFeed,
		agentViewport: viewport.New(0, 0),
		feedViewport:  viewport.New(0, 0),
		keys:          DefaultKeyMap(),
		help:          h,
		follow:        true,
	}
}

// Run starts the TUI and blocks until it exits.
func Run(paths workspace.Paths) error {
	program := tea.NewProgram(NewModel(paths), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type tickMsg time.Time

type refreshMsg struct {
	sessions []*state.Session
	events   []*eventlog.Event
	err      error
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetch reads both stores off the UI goroutine. Either store may be
// missing on a fresh workspace; that renders as an empty feed, not an
// error.
func (m *Model) fetch() tea.Cmd {
	paths := m.paths
	sinceID := m.lastID
	return func() tea.Msg {
		var msg refreshMsg

		if store, err := state.Open(paths.SessionsDB()); err == nil {
			msg.sessions, _ = store.All()
			store.Close()
		}

		store, err := eventlog.Open(paths.EventsDB())
		if err != nil {
			msg.err = err
			return msg
		}
		defer store.Close()

		events, err := store.Timeline(eventlog.Query{Limit: maxEvents})
		if err != nil {
			msg.err = err
			return msg
		}
		for _, e := range events {
			if e.ID > sinceID {
				msg.events = append(msg.events, e)
			}
		}
		return msg
	}
}

// Init starts polling.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetch(),
		tick(),
		tea.SetWindowTitle("Legio Feed"),
	)
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateViewportSizes()

	case tickMsg:
		cmds = append(cmds, m.fetch(), tick())

	case refreshMsg:
		m.applyRefresh(msg)
	}

	var cmd tea.Cmd
	switch m.focusedPanel {
	case PanelAgents:
		m.agentViewport, cmd = m.agentViewport.Update(msg)
	case PanelFeed:
		m.feedViewport, cmd = m.feedViewport.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) applyRefresh(msg refreshMsg) {
	m.loadErr = msg.err
	if msg.sessions != nil {
		m.sessions = msg.sessions
	}
	for _, e := range msg.events {
		m.events = append(m.events, e)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
	}
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	m.updateViewContent()
	if m.follow {
		m.feedViewport.GotoBottom()
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		m.updateViewportSizes()
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		if m.focusedPanel == PanelAgents {
			m.focusedPanel = PanelFeed
		} else {
			m.focusedPanel = PanelAgents
		}
		return m, nil

	case key.Matches(msg, m.keys.FocusAgents):
		m.focusedPanel = PanelAgents
		return m, nil

	case key.Matches(msg, m.keys.FocusFeed):
		m.focusedPanel = PanelFeed
		return m, nil

	case key.Matches(msg, m.keys.Follow):
		m.follow = !m.follow
		if m.follow {
			m.feedViewport.GotoBottom()
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetch()

	case key.Matches(msg, m.keys.Top):
		m.follow = false
		m.focusedViewport().GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		m.focusedViewport().GotoBottom()
		return m, nil
	}

	// Manual scrolling in the feed suspends follow mode.
	if m.focusedPanel == PanelFeed &&
		(key.Matches(msg, m.keys.Up) || key.Matches(msg, m.keys.PageUp)) {
		m.follow = false
	}

	var cmd tea.Cmd
	switch m.focusedPanel {
	case PanelAgents:
		m.agentViewport, cmd = m.agentViewport.Update(msg)
	case PanelFeed:
		m.feedViewport, cmd = m.feedViewport.Update(msg)
	}
	return m, cmd
}

func (m *Model) focusedViewport() *viewport.Model {
	if m.focusedPanel == PanelAgents {
		return &m.agentViewport
	}
	return &m.feedViewport
}

func (m *Model) updateViewportSizes() {
	headerHeight := 1
	statusHeight := 1
	helpHeight := 1
	if m.showHelp {
		helpHeight = 4
	}
	borderHeight := 4 // top and bottom borders for 2 panels

	availableHeight := m.height - headerHeight - statusHeight - helpHeight - borderHeight
	if availableHeight < 6 {
		availableHeight = 6
	}

	agentHeight := availableHeight * 30 / 100
	if agentHeight < 3 {
		agentHeight = 3
	}
	feedHeight := availableHeight - agentHeight
	if feedHeight < 3 {
		feedHeight = 3
	}

	contentWidth := m.width - 4
	if contentWidth < 20 {
		contentWidth = 20
	}

	m.agentViewport.Width = contentWidth
	m.agentViewport.Height = agentHeight
	m.feedViewport.Width = contentWidth
	m.feedViewport.Height = feedHeight

	m.updateViewContent()
}

func (m *Model) updateViewContent() {
	m.agentViewport.SetContent(m.renderAgents())
	m.feedViewport.SetContent(m.renderFeed())
}

func (m *Model) renderAgents() string {
	if len(m.sessions) == 0 {
		return agentDeadStyle.Render("no agent sessions")
	}

	sessions := make([]*state.Session, len(m.sessions))
	copy(sessions, m.sessions)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Name < sessions[j].Name
	})

	var b strings.Builder
	for _, sess := range sessions {
		style := agentDeadStyle
		switch sess.State {
		case state.StateBooting, state.StateWorking:
			style = agentActiveStyle
		case state.StateStalled:
			style = agentStalledStyle
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			style.Render(string(sess.State)),
			agentNameStyle.Render(sess.Name),
			timestampStyle.Render(sess.LastActivity.Format("15:04:05")),
		)
	}
	return b.String()
}

func (m *Model) renderFeed() string {
	if len(m.events) == 0 {
		return agentDeadStyle.Render("waiting for events")
	}

	var b strings.Builder
	for _, e := range m.events {
		b.WriteString(m.renderEvent(e))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *Model) renderEvent(e *eventlog.Event) string {
	symbol, ok := eventSymbols[e.Type]
	if !ok {
		symbol = "·"
	}

	style := eventInfoStyle
	switch e.Level {
	case eventlog.LevelWarn:
		style = eventWarnStyle
	case eventlog.LevelError:
		style = eventErrorStyle
	}

	subject := e.Type
	if e.Tool != "" {
		subject = e.Tool
	}

	line := fmt.Sprintf("%s %s %s %s",
		timestampStyle.Render(e.Timestamp.Format("15:04:05")),
		style.Render(symbol),
		agentNameStyle.Render(e.Agent),
		style.Render(subject),
	)
	if e.Data != "" {
		line += " " + timestampStyle.Render(truncate(e.Data, 60))
	}
	return line
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// View renders the TUI.
func (m *Model) View() string {
	if m.width == 0 {
		return "loading…"
	}

	header := headerStyle.Render("Legio Feed")

	agentPanel := panelStyle
	feedPanel := panelStyle
	if m.focusedPanel == PanelAgents {
		agentPanel = focusedPanelStyle
	} else {
		feedPanel = focusedPanelStyle
	}

	status := fmt.Sprintf("%d agents · %d events", len(m.sessions), len(m.events))
	if m.follow {
		status += " · following"
	}
	if m.loadErr != nil {
		status += " · " + m.loadErr.Error()
	}

	return strings.Join([]string{
		header,
		agentPanel.Render(m.agentViewport.View()),
		feedPanel.Render(m.feedViewport.View()),
		statusBarStyle.Render(status),
		m.help.View(m.keys),
	}, "\n")
}
