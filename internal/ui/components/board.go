package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/ldi/sprintboard/internal/tracker"
	"github.com/ldi/sprintboard/pkg/models"
)

var (
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	exceededColumnStyle = columnStyle.
				BorderForeground(lipgloss.Color("196"))

	columnHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252"))

	exceededHeaderStyle = columnHeaderStyle.
				Foreground(lipgloss.Color("196"))

	boardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Padding(0, 1)

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	placeholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true)
)

const minColumnWidth = 16

var columnTitles = map[models.TaskStatus]string{
	models.TaskStatusTodo:       "To Do",
	models.TaskStatusInProgress: "In Progress",
	models.TaskStatusReview:     "Review",
	models.TaskStatusCompleted:  "Completed",
}

var priorityIcons = map[models.Priority]string{
	models.PriorityLow:    "·",
	models.PriorityMedium: "•",
	models.PriorityHigh:   "▲",
	models.PriorityUrgent: "!",
}

// Board renders a project board as side-by-side columns that together fit
// in width.
type Board struct {
	Board *tracker.Board
	Width int
}

func NewBoard(b *tracker.Board, width int) *Board {
	return &Board{Board: b, Width: width}
}

func (b *Board) View() string {
	if b.Board == nil {
		return placeholderStyle.Render("No board loaded")
	}

	title := b.Board.Project.Key + " " + b.Board.Project.Name
	if b.Board.Sprint != nil {
		title += " · " + b.Board.Sprint.Name
	} else {
		title += " · all tasks"
	}

	columns := make([]string, 0, len(b.Board.Columns))
	width := b.columnWidth()
	for _, col := range b.Board.Columns {
		columns = append(columns, renderColumn(col, width))
	}
	return boardTitleStyle.Render(title) + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, columns...)
}

// columnWidth is the outer width of one column including its border.
func (b *Board) columnWidth() int {
	n := len(b.Board.Columns)
	if n == 0 {
		return minColumnWidth
	}
	w := b.Width / n
	if w < minColumnWidth {
		w = minColumnWidth
	}
	return w
}

func renderColumn(col tracker.BoardColumn, width int) string {
	style, header := columnStyle, columnHeaderStyle
	if col.Exceeded {
		style, header = exceededColumnStyle, exceededHeaderStyle
	}

	// Border and padding take four cells.
	inner := width - 4
	if inner < 1 {
		inner = 1
	}

	lines := []string{header.Render(ColumnHeader(col))}
	if len(col.Tasks) == 0 {
		lines = append(lines, placeholderStyle.Render("empty"))
	}
	for _, t := range col.Tasks {
		card := lipgloss.NewStyle().Width(inner).Render(fmt.Sprintf("%s %s", priorityIcon(t.Priority), t.Title))
		lines = append(lines, card)
		if d := details(t); d != "" {
			lines = append(lines, detailStyle.Width(inner).Render("  "+d))
		}
	}
	return style.Width(width - 2).Render(strings.Join(lines, "\n"))
}

// ColumnHeader is the column title with its load, for example "In Progress 3/2".
func ColumnHeader(col tracker.BoardColumn) string {
	title, ok := columnTitles[col.Status]
	if !ok {
		title = string(col.Status)
	}
	if col.WIPLimit > 0 {
		return fmt.Sprintf("%s %d/%d", title, col.Count, col.WIPLimit)
	}
	return fmt.Sprintf("%s %d", title, col.Count)
}

func priorityIcon(p models.Priority) string {
	if icon, ok := priorityIcons[p]; ok {
		return icon
	}
	return "•"
}

func details(t *models.Task) string {
	var parts []string
	if t.StoryPoints != nil {
		parts = append(parts, fmt.Sprintf("%d pts", *t.StoryPoints))
	}
	if t.DueDate != nil {
		parts = append(parts, "due "+t.DueDate.Format("Jan 2"))
	}
	return strings.Join(parts, " · ")
}
