package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/models"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	parts := []string{m.renderHeader(), m.renderTabs()}
	if m.feed.RoomClosed() {
		parts = append(parts, m.styles.Banner.Render("This room has been closed by the lecturer."))
	}
	parts = append(parts, m.list.View())
	if m.mode != inputNone {
		parts = append(parts, m.input.View())
	}
	if m.showHelp {
		parts = append(parts, m.renderHelp())
	}
	parts = append(parts, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	role := "student " + m.viewerTag
	if m.moderator {
		role = "moderator"
	}
	vis := "questions visible"
	if m.feed.Visibility() == models.VisibilityPrivate {
		vis = "questions private"
	}
	title := fmt.Sprintf("QBox  %s [%s]  %s  %s  sort: %s", m.room.Name, m.room.Code, vis, role, m.sort)
	return m.styles.Header.Width(max(m.width, 1)).Render(truncate(title, m.width-2))
}

func (m Model) renderTabs() string {
	tabs := make([]string, 0, len(m.filters))
	for i, f := range m.filters {
		label := fmt.Sprintf("%s (%d)", tabLabel(f), m.counts[f])
		if i == m.tab {
			tabs = append(tabs, m.styles.ActiveTab.Render(label))
			continue
		}
		tabs = append(tabs, m.styles.Tab.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderFooter() string {
	if m.status != "" {
		if m.statusErr {
			return m.styles.Danger.Render(" " + m.status)
		}
		return m.styles.Accent.Render(" " + m.status)
	}
	hint := "tab filter · s sort · u upvote · a ask · r refresh · ? help · q quit"
	if m.moderator {
		hint = "tab filter · enter answer · d reject · R restore · D delete · ? help · q quit"
	}
	return m.styles.Footer.Render(hint)
}

func (m Model) renderHelp() string {
	var b strings.Builder
	for _, k := range m.keys.helpBindings(m.moderator) {
		h := k.Help()
		fmt.Fprintf(&b, "  %-10s %s\n", h.Key, h.Desc)
	}
	return m.styles.Muted.Render(strings.TrimRight(b.String(), "\n"))
}

// layout sizes the list viewport from the window and the optional panes.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	chrome := 3 // header, tabs, footer
	if m.mode != inputNone {
		chrome++
	}
	if m.showHelp {
		chrome += len(m.keys.helpBindings(m.moderator))
	}
	if m.feed.RoomClosed() {
		chrome++
	}
	m.list.Width = m.width
	m.list.Height = max(m.height-chrome, 1)
	m.input.Width = max(m.width-len(m.input.Prompt)-2, 10)
	m.render()
}

// render rebuilds the list body and scrolls the selection into view.
func (m *Model) render() {
	if len(m.rows) == 0 {
		m.list.SetContent(m.styles.Muted.Render("  No questions here yet."))
		return
	}
	lines := make([]string, 0, len(m.rows)*2)
	selLine := 0
	for i, q := range m.rows {
		if i == m.selected {
			selLine = len(lines)
		}
		row, detail := m.renderQuestion(q)
		if i == m.selected {
			row = m.styles.Selected.Render(row)
		}
		lines = append(lines, row)
		if detail != "" {
			lines = append(lines, detail)
		}
	}
	m.list.SetContent(strings.Join(lines, "\n"))
	if selLine < m.list.YOffset {
		m.list.SetYOffset(selLine)
	} else if h := m.list.Height; h > 0 && selLine >= m.list.YOffset+h {
		m.list.SetYOffset(selLine - h + 1)
	}
}

func (m Model) renderQuestion(q models.Question) (string, string) {
	marker := " "
	if q.IsOwnedBy(m.viewerTag) {
		marker = "*"
	}
	badge := m.styles.Status(string(q.Status)).Render(fmt.Sprintf("%-8s", q.Status))
	flags := ""
	if q.Reported {
		flags = m.styles.Danger.Render(" !")
	}
	age := m.styles.Muted.Render(humanizeAge(time.Since(q.CreatedAt)))
	width := m.width - 30
	row := fmt.Sprintf("%s ▲%-3d %s %s%s  %s", marker, q.UpvoteCount, badge, truncate(q.Text, width), flags, age)

	detail := ""
	if q.Status == models.StatusAnswered && q.AnswerText != nil && *q.AnswerText != "" {
		detail = m.styles.Accent.Render("        ↳ " + truncate(*q.AnswerText, width))
	}
	return row, detail
}

func tabLabel(f feed.StatusFilter) string {
	switch f {
	case feed.FilterAll:
		return "All"
	case feed.FilterMine:
		return "Mine"
	case feed.FilterPending:
		return "Pending"
	case feed.FilterAnswered:
		return "Answered"
	case feed.FilterRejected:
		return "Rejected"
	case feed.FilterReported:
		return "Reported"
	}
	return string(f)
}

func humanizeAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
}

func truncate(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if limit <= 0 || len(r) <= limit {
		return string(r)
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	return string(r[:limit-1]) + "…"
}
