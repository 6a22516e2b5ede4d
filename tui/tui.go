// Package tui provides an interactive terminal UI for choosing which
// duplicates to merge
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/luinbytes/linkdedup/dedup"
	"github.com/luinbytes/linkdedup/storage"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(2).
			PaddingRight(2)

	itemStyle = lipgloss.NewStyle().PaddingLeft(4)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(lipgloss.Color("#7D56F4")).
				Bold(true)

	checkedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	uncheckedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	masterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F5A623")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA"))
)

// fileItem is one path of the group on screen
type fileItem struct {
	Path     string
	ModTime  string
	Selected bool
}

// groupItem is a duplicate group plus the user's choices for it
type groupItem struct {
	group  dedup.DuplicateGroup
	files  []fileItem
	master int
}

type stage int

const (
	stageSelect stage = iota
	stageConfirm
	stageDone
)

// keyMap defines keybindings for the TUI
type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Toggle    key.Binding
	ToggleAll key.Binding
	Master    key.Binding
	Skip      key.Binding
	Accept    key.Binding
	Yes       key.Binding
	No        key.Binding
	Quit      key.Binding
	Help      key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "move up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "move down"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("space", " "),
		key.WithHelp("space", "toggle path"),
	),
	ToggleAll: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "toggle all"),
	),
	Master: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "keep this one"),
	),
	Skip: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "skip group"),
	),
	Accept: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "accept group"),
	),
	Yes: key.NewBinding(
		key.WithKeys("y", "enter"),
		key.WithHelp("y/enter", "merge"),
	),
	No: key.NewBinding(
		key.WithKeys("n", "esc"),
		key.WithHelp("n/esc", "cancel"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
}

// ShortHelp returns keybindings to be shown in the mini help view.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Accept, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle, k.ToggleAll},
		{k.Master, k.Skip, k.Accept, k.Help, k.Quit},
	}
}

// Model is the TUI state
type Model struct {
	groups       []groupItem
	currentGroup int
	cursor       int
	stage        stage
	showHelp     bool
	confirmed    bool
	quitting     bool
	width        int
	height       int
	keys         keyMap
	help         help.Model
	requests     []dedup.MergeRequest
	statusMsg    string
}

// New creates a model over groups. Every path starts selected and the master
// is preselected by policy; fsys may be nil, in which case modification
// times are not shown and the first path is preselected.
func New(groups []dedup.DuplicateGroup, fsys storage.FS, policy dedup.KeepPolicy) Model {
	items := make([]groupItem, 0, len(groups))
	for _, g := range groups {
		item := groupItem{group: g, files: make([]fileItem, len(g.Paths))}
		master := ""
		if fsys != nil {
			master = dedup.ChooseMaster(fsys, g.Paths, policy)
		}
		for i, p := range g.Paths {
			item.files[i] = fileItem{Path: p, Selected: true, ModTime: modTime(fsys, p)}
			if p == master {
				item.master = i
			}
		}
		items = append(items, item)
	}

	m := Model{
		groups: items,
		keys:   keys,
		help:   help.New(),
	}
	m.updateStatus()
	return m
}

func modTime(fsys storage.FS, path string) string {
	if fsys == nil {
		return ""
	}
	info, err := fsys.Lstat(path)
	if err != nil {
		return "missing"
	}
	return info.ModTime().Format(time.DateTime)
}

// Init initializes the TUI
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and user input
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			m.requests = nil
			m.stage = stageDone
			return m, tea.Quit
		}
		if key.Matches(msg, m.keys.Help) {
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.stage == stageConfirm {
			return m.updateConfirm(msg)
		}
		if m.stage == stageSelect {
			return m.updateSelect(msg)
		}
	}

	return m, nil
}

func (m Model) updateSelect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.currentGroup >= len(m.groups) {
		return m.advance()
	}
	group := &m.groups[m.currentGroup]

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(group.files)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Toggle):
		if m.cursor == group.master {
			m.statusMsg = "The kept file is always part of the merge; press m on another path to keep that one instead"
			return m, nil
		}
		group.files[m.cursor].Selected = !group.files[m.cursor].Selected
		m.updateStatus()

	case key.Matches(msg, m.keys.ToggleAll):
		allSelected := true
		for i := range group.files {
			if !group.files[i].Selected {
				allSelected = false
				break
			}
		}
		for i := range group.files {
			group.files[i].Selected = !allSelected || i == group.master
		}
		m.updateStatus()

	case key.Matches(msg, m.keys.Master):
		group.master = m.cursor
		group.files[m.cursor].Selected = true
		m.updateStatus()

	case key.Matches(msg, m.keys.Skip):
		return m.advance()

	case key.Matches(msg, m.keys.Accept):
		if req, ok := group.request(); ok {
			m.requests = append(m.requests, req)
		}
		return m.advance()
	}

	return m, nil
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Yes):
		m.confirmed = true
		m.stage = stageDone
		return m, tea.Quit
	case key.Matches(msg, m.keys.No):
		m.requests = nil
		m.stage = stageDone
		return m, tea.Quit
	}
	return m, nil
}

// advance moves to the next group, or to the confirmation screen after the
// last one. With nothing accepted there is nothing to confirm.
func (m Model) advance() (tea.Model, tea.Cmd) {
	m.currentGroup++
	m.cursor = 0
	if m.currentGroup < len(m.groups) {
		m.updateStatus()
		return m, nil
	}
	if len(m.requests) == 0 {
		m.stage = stageDone
		return m, tea.Quit
	}
	m.stage = stageConfirm
	return m, nil
}

// request builds the merge request for the selected paths. Fewer than two
// selected paths leave nothing to merge.
func (g groupItem) request() (dedup.MergeRequest, bool) {
	var paths []string
	for _, f := range g.files {
		if f.Selected {
			paths = append(paths, f.Path)
		}
	}
	if len(paths) < 2 {
		return dedup.MergeRequest{}, false
	}
	req, err := dedup.NewMergeRequest(g.group, paths...).WithMaster(g.files[g.master].Path)
	if err != nil {
		return dedup.MergeRequest{}, false
	}
	return req, true
}

// updateStatus updates the status message
func (m *Model) updateStatus() {
	if m.currentGroup >= len(m.groups) {
		return
	}
	group := m.groups[m.currentGroup]
	selected := 0
	for _, f := range group.files {
		if f.Selected {
			selected++
		}
	}
	req, ok := group.request()
	if !ok {
		m.statusMsg = fmt.Sprintf("Selected: %d/%d (nothing to merge)", selected, len(group.files))
		return
	}
	m.statusMsg = fmt.Sprintf("Selected: %d/%d, frees %s", selected, len(group.files),
		FormatBytes(req.Reclaimable()))
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if len(m.groups) == 0 {
		return "No duplicates found!\n"
	}
	if m.stage != stageSelect {
		return m.renderConfirmation()
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render(" linkdedup "))
	s.WriteString("\n\n")

	group := m.groups[m.currentGroup]
	s.WriteString(headerStyle.Render(fmt.Sprintf("Duplicate Group %d/%d", m.currentGroup+1, len(m.groups))))
	s.WriteString("\n")
	s.WriteString(infoStyle.Render(fmt.Sprintf("Digest: %s | Size: %s", group.group.Digest.Short(), FormatBytes(group.group.Size))))
	s.WriteString("\n\n")

	s.WriteString(m.renderFileList(group))
	s.WriteString("\n")

	if m.statusMsg != "" {
		s.WriteString(infoStyle.Render(m.statusMsg))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	if m.showHelp {
		s.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	} else {
		s.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	}

	return s.String()
}

// renderFileList renders the list of files in the current group
func (m Model) renderFileList(group groupItem) string {
	var s strings.Builder

	for i, file := range group.files {
		var line strings.Builder

		switch {
		case i == group.master:
			line.WriteString(masterStyle.Render("[K] "))
		case file.Selected:
			line.WriteString(checkedStyle.Render("[✓] "))
		default:
			line.WriteString(uncheckedStyle.Render("[ ] "))
		}

		if i == m.cursor {
			line.WriteString(selectedItemStyle.Render("> " + file.Path))
		} else {
			line.WriteString(itemStyle.Render(file.Path))
		}

		if file.ModTime != "" {
			line.WriteString(infoStyle.Render(" (" + file.ModTime + ")"))
		}

		s.WriteString(line.String())
		s.WriteString("\n")
	}

	return s.String()
}

// renderConfirmation renders the final confirmation screen
func (m Model) renderConfirmation() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" Confirmation "))
	s.WriteString("\n\n")

	if len(m.requests) == 0 {
		s.WriteString("Nothing selected to merge.\n")
		return s.String()
	}

	links, freed := 0, int64(0)
	for _, req := range m.requests {
		links += len(req.Redundant())
		freed += req.Reclaimable()
	}
	s.WriteString(fmt.Sprintf("About to replace %d files with hardlinks (%s freed):\n\n", links, FormatBytes(freed)))
	for i, req := range m.requests {
		if i >= 10 {
			s.WriteString(fmt.Sprintf("... and %d more groups\n", len(m.requests)-10))
			break
		}
		s.WriteString(fmt.Sprintf("  keep %s\n", masterStyle.Render(req.Master)))
		for _, p := range req.Redundant() {
			s.WriteString(fmt.Sprintf("    • %s\n", filepath.Clean(p)))
		}
	}
	if m.stage == stageConfirm {
		s.WriteString("\nPress y or Enter to merge, n or Esc to cancel.\n")
	}

	return s.String()
}

// Requests returns the confirmed merge requests; nil unless the user
// confirmed.
func (m Model) Requests() []dedup.MergeRequest {
	if !m.confirmed {
		return nil
	}
	return m.requests
}

// Run starts the TUI and returns the merge requests the user confirmed.
func Run(groups []dedup.DuplicateGroup, fsys storage.FS, policy dedup.KeepPolicy) ([]dedup.MergeRequest, error) {
	p := tea.NewProgram(New(groups, fsys, policy), tea.WithAltScreen())
	m, err := p.Run()
	if err != nil {
		return nil, err
	}

	model := m.(Model)
	return model.Requests(), nil
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
