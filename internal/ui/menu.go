package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	logoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("12")).Bold(true)
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const logo = `
 ┏━┓┏━┓┏━┓╻┏┓╻╺┳╸┏┓ ┏━┓┏━┓┏━┓╺┳┓
 ┗━┓┣━┛┣┳┛┃┃┗┫ ┃ ┣┻┓┃ ┃┣━┫┣┳┛ ┃┃
 ┗━┛╹  ╹┗╸╹╹ ╹ ╹ ┗━┛┗━┛╹ ╹╹┗╸╺┻┛
`

// MenuItem is a command the menu can launch.
type MenuItem struct {
	Command string
	Help    string
}

var defaultItems = []MenuItem{
	{"init", "create the database and optionally seed it"},
	{"serve", "run the HTTP API"},
	{"projects", "list projects"},
	{"tasks", "list tasks"},
	{"board", "show a project board"},
	{"status", "show a summary"},
	{"mcp", "run the MCP tool server on stdio"},
}

type MenuModel struct {
	items    []MenuItem
	cursor   int
	selected string
	quitting bool
}

func NewMenuModel() MenuModel {
	return MenuModel{items: defaultItems}
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}

		case "enter":
			m.selected = m.items[m.cursor].Command
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m MenuModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder

	s.WriteString(logoStyle.Render(logo))
	s.WriteString("\n\n")

	for i, item := range m.items {
		line := fmt.Sprintf("%-10s %s", item.Command, hintStyle.Render(item.Help))
		if m.cursor == i {
			s.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			s.WriteString(itemStyle.Render("  " + line))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n(use arrow keys or j/k to navigate, enter to select, q to quit)\n")

	return s.String()
}

// Selected is the chosen command, or "" when the user quit.
func (m MenuModel) Selected() string {
	return m.selected
}

func RunMenu() (string, error) {
	p := tea.NewProgram(NewMenuModel())
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}
	return finalModel.(MenuModel).Selected(), nil
}
