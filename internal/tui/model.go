// Package tui renders a room's question feed in the terminal with Bubble Tea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/qbox-app/backend/internal/client"
	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/models"
)

// Feed is the synchronizer surface the view drives.
type Feed interface {
	Projected(opts feed.ViewOptions) []models.Question
	Counts(opts feed.ViewOptions) map[feed.StatusFilter]int
	Visibility() models.Visibility
	RoomClosed() bool
	Refresh(ctx context.Context) error
	Ask(ctx context.Context, text, ownerTag string) (models.Question, error)
	Submit(ctx context.Context, a feed.Action) error
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Feed      Feed
	Room      models.Room
	ViewerTag string
	Moderator bool
	Sort      feed.SortMode
	// Changes delivers a signal whenever the feed's local state changed.
	Changes <-chan struct{}
}

type inputMode int

const (
	inputNone inputMode = iota
	inputAsk
	inputAnswer
)

type changedMsg struct{}

type resultMsg struct {
	info string
	err  error
}

type clearStatusMsg struct{ seq int }

var sortModes = []feed.SortMode{feed.SortNewest, feed.SortOldest, feed.SortUpvotes}

var studentFilters = []feed.StatusFilter{feed.FilterAll, feed.FilterMine, feed.FilterPending, feed.FilterAnswered}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	feed      Feed
	room      models.Room
	viewerTag string
	moderator bool
	changes   <-chan struct{}

	keys   keyMap
	styles styles

	width, height int
	ready         bool
	showHelp      bool

	filters  []feed.StatusFilter
	tab      int
	sort     feed.SortMode
	selected int
	rows     []models.Question
	counts   map[feed.StatusFilter]int

	list  viewport.Model
	input textinput.Model
	mode  inputMode
	// target is the question the answer input applies to.
	target string

	status    string
	statusErr bool
	statusSeq int
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	sort := opts.Sort
	if sort == "" {
		sort = feed.SortNewest
	}
	filters := studentFilters
	if opts.Moderator {
		filters = feed.Filters
	}

	in := textinput.New()
	in.CharLimit = models.MaxQuestionLength

	m := Model{
		ctx:       ctx,
		feed:      opts.Feed,
		room:      opts.Room,
		viewerTag: opts.ViewerTag,
		moderator: opts.Moderator,
		changes:   opts.Changes,
		keys:      defaultKeyMap(),
		styles:    newStyles(),
		filters:   filters,
		sort:      sort,
		list:      viewport.New(0, 0),
		input:     in,
	}
	m.reload()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.EnterAltScreen, waitForChange(m.changes))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		return m, nil

	case changedMsg:
		m.reload()
		return m, waitForChange(m.changes)

	case resultMsg:
		m.reload()
		return m, m.setStatus(msg.info, msg.err)

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status, m.statusErr = "", false
		}
		return m, nil

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.handleInput(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.layout()
	case key.Matches(msg, m.keys.NextTab):
		m.tab = (m.tab + 1) % len(m.filters)
		m.selected = 0
		m.reload()
	case key.Matches(msg, m.keys.PrevTab):
		m.tab = (m.tab + len(m.filters) - 1) % len(m.filters)
		m.selected = 0
		m.reload()
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
			m.render()
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.rows)-1 {
			m.selected++
			m.render()
		}
	case key.Matches(msg, m.keys.Sort):
		for i, s := range sortModes {
			if s == m.sort {
				m.sort = sortModes[(i+1)%len(sortModes)]
				break
			}
		}
		m.reload()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()
	case key.Matches(msg, m.keys.Ask):
		if m.feed.RoomClosed() {
			return m, m.setStatus("", errors.New("room is closed"))
		}
		return m, m.startInput(inputAsk, "", "Ask anonymously: ")
	case key.Matches(msg, m.keys.Upvote):
		return m, m.submit(feed.ActionUpvote, "upvoted")
	case key.Matches(msg, m.keys.Report):
		return m, m.submit(feed.ActionReport, "reported")
	case m.moderator && key.Matches(msg, m.keys.Answer):
		if q, ok := m.current(); ok {
			return m, m.startInput(inputAnswer, q.ID, "Answer (optional): ")
		}
	case m.moderator && key.Matches(msg, m.keys.Reject):
		return m, m.submit(feed.ActionReject, "moved to rejected")
	case m.moderator && key.Matches(msg, m.keys.Restore):
		return m, m.submit(feed.ActionRestore, "restored")
	case m.moderator && key.Matches(msg, m.keys.Purge):
		return m, m.submit(feed.ActionPermanentDelete, "deleted")
	}
	return m, nil
}

func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.stopInput()
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		text, mode, target := m.input.Value(), m.mode, m.target
		if mode == inputAsk {
			if err := models.ValidateQuestionText(text); err != nil {
				return m, m.setStatus("", err)
			}
		}
		m.stopInput()
		if mode == inputAsk {
			return m, m.ask(text)
		}
		var answer *string
		if text != "" {
			answer = &text
		}
		return m, m.run(feed.Action{Kind: feed.ActionAnswer, QuestionID: target, AnswerText: answer}, "marked answered")
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) startInput(mode inputMode, target, prompt string) tea.Cmd {
	m.mode = mode
	m.target = target
	m.input.Prompt = prompt
	m.input.SetValue("")
	m.layout()
	return m.input.Focus()
}

func (m *Model) stopInput() {
	m.mode = inputNone
	m.target = ""
	m.input.Blur()
	m.layout()
}

func (m Model) current() (models.Question, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return models.Question{}, false
	}
	return m.rows[m.selected], true
}

func (m Model) submit(kind feed.ActionKind, done string) tea.Cmd {
	q, ok := m.current()
	if !ok {
		return nil
	}
	return m.run(feed.Action{Kind: kind, QuestionID: q.ID, ViewerTag: m.viewerTag}, done)
}

func (m Model) run(a feed.Action, done string) tea.Cmd {
	ctx, f := m.ctx, m.feed
	return func() tea.Msg {
		if err := f.Submit(ctx, a); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{info: done}
	}
}

func (m Model) ask(text string) tea.Cmd {
	ctx, f, tag := m.ctx, m.feed, m.viewerTag
	return func() tea.Msg {
		if _, err := f.Ask(ctx, text, tag); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{info: "question sent"}
	}
}

func (m Model) refresh() tea.Cmd {
	ctx, f := m.ctx, m.feed
	return func() tea.Msg {
		if err := f.Refresh(ctx); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{info: "refreshed"}
	}
}

func (m *Model) setStatus(info string, err error) tea.Cmd {
	m.statusSeq++
	m.status, m.statusErr = info, err != nil
	if err != nil {
		m.status = describe(err)
	}
	m.layout()
	seq := m.statusSeq
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} })
}

// describe turns service errors into a one-line message.
func describe(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, feed.ErrUnknownQuestion) {
		return "that question is gone"
	}
	return fmt.Sprint(err)
}

func (m Model) viewOptions() feed.ViewOptions {
	return feed.ViewOptions{
		Visibility: m.feed.Visibility(),
		ViewerTag:  m.viewerTag,
		Filter:     m.filters[m.tab],
		Sort:       m.sort,
	}
}

// reload re-projects the feed and keeps the cursor in range.
func (m *Model) reload() {
	opts := m.viewOptions()
	if m.moderator {
		// Moderators always see the whole room regardless of the student-facing policy.
		opts.Visibility = models.VisibilityVisible
	}
	m.rows = m.feed.Projected(opts)
	m.counts = m.feed.Counts(opts)
	if m.selected >= len(m.rows) {
		m.selected = len(m.rows) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	m.render()
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}
