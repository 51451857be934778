package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ldi/sprintboard/internal/tracker"
	"github.com/ldi/sprintboard/internal/ui/components"
)

// BoardLoader fetches the current state of a board.
type BoardLoader func() (*tracker.Board, error)

type boardLoadedMsg struct {
	board *tracker.Board
	err   error
	at    time.Time
}

// BoardModel shows a project board in a scrollable pager. r reloads it.
type BoardModel struct {
	load  BoardLoader
	board *tracker.Board
	err   error
	pager *components.Pager
}

func NewBoardModel(load BoardLoader, width, height int) *BoardModel {
	return &BoardModel{
		load:  load,
		pager: components.NewPager(width, height),
	}
}

func (m *BoardModel) Init() tea.Cmd {
	return m.fetch
}

func (m *BoardModel) fetch() tea.Msg {
	b, err := m.load()
	return boardLoadedMsg{board: b, err: err, at: time.Now()}
}

func (m *BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			m.pager.SetStatus("reloading...")
			return m, m.fetch
		}

	case tea.WindowSizeMsg:
		// Leave a line for the status.
		m.pager.SetSize(msg.Width, msg.Height-1)
		m.render()
		return m, nil

	case boardLoadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.board = msg.board
		}
		m.render()
		if msg.err != nil {
			m.pager.SetStatus("error: " + msg.err.Error())
		} else {
			m.pager.SetStatus(fmt.Sprintf("loaded %s · r reload · q quit", msg.at.Format("15:04:05")))
		}
		return m, nil
	}

	return m, m.pager.Update(msg)
}

func (m *BoardModel) render() {
	m.pager.SetContent(components.NewBoard(m.board, m.pager.Width()-1).View())
}

func (m *BoardModel) View() string {
	return m.pager.View()
}

// Err is the last load error.
func (m *BoardModel) Err() error {
	return m.err
}

func RunBoard(load BoardLoader) error {
	m := NewBoardModel(load, 80, 24)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return m.err
}
