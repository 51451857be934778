package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	scrollbarTrackStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("236"))

	scrollbarHandleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
)

// Pager shows pre-rendered content in a scrollable viewport with a
// scrollbar when the content is taller than the pager.
type Pager struct {
	viewport viewport.Model
	content  string
	status   string
	ready    bool
}

func NewPager(width, height int) *Pager {
	p := &Pager{}
	p.SetSize(width, height)
	return p
}

// SetSize keeps one column free for the scrollbar.
func (p *Pager) SetSize(width, height int) {
	vpWidth := width
	if width > 0 {
		vpWidth = width - 1
	}
	if !p.ready {
		p.viewport = viewport.New(vpWidth, height)
		p.ready = true
	} else {
		p.viewport.Width = vpWidth
		p.viewport.Height = height
	}
	p.viewport.SetContent(p.content)
}

// SetContent replaces the content and keeps the scroll position where
// possible.
func (p *Pager) SetContent(content string) {
	p.content = content
	p.viewport.SetContent(content)
}

// SetStatus sets a one-line status shown under the viewport.
func (p *Pager) SetStatus(status string) {
	p.status = status
}

func (p *Pager) Width() int {
	return p.viewport.Width + 1
}

func (p *Pager) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return cmd
}

func (p *Pager) View() string {
	if !p.ready {
		return ""
	}

	view := p.viewport.View()
	if p.viewport.TotalLineCount() > p.viewport.Height {
		view = lipgloss.JoinHorizontal(lipgloss.Top, view, p.scrollbar())
	}
	if p.status != "" {
		view += "\n" + statusStyle.Render(p.status)
	}
	return view
}

func (p *Pager) scrollbar() string {
	h := p.viewport.Height
	handlePos := int(float64(h-1) * p.viewport.ScrollPercent())

	var sb strings.Builder
	for i := 0; i < h; i++ {
		if i == handlePos {
			sb.WriteString(scrollbarHandleStyle.Render("┃"))
		} else {
			sb.WriteString(scrollbarTrackStyle.Render("│"))
		}
		if i < h-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
