package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all keyboard bindings for the feed view.
type keyMap struct {
	Quit    key.Binding
	Help    key.Binding
	NextTab key.Binding
	PrevTab key.Binding
	Up      key.Binding
	Down    key.Binding
	Sort    key.Binding
	Refresh key.Binding

	// Student actions
	Ask    key.Binding
	Upvote key.Binding
	Report key.Binding

	// Moderator actions
	Answer  key.Binding
	Reject  key.Binding
	Restore key.Binding
	Purge   key.Binding

	// Input
	Confirm key.Binding
	Cancel  key.Binding
}

// defaultKeyMap returns the default key bindings.
func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		NextTab: key.NewBinding(
			key.WithKeys("tab", "right", "l"),
			key.WithHelp("tab", "next filter"),
		),
		PrevTab: key.NewBinding(
			key.WithKeys("shift+tab", "left", "h"),
			key.WithHelp("shift+tab", "previous filter"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Sort: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "cycle sort"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Ask: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "ask"),
		),
		Upvote: key.NewBinding(
			key.WithKeys("u", " "),
			key.WithHelp("u", "upvote"),
		),
		Report: key.NewBinding(
			key.WithKeys("!"),
			key.WithHelp("!", "report"),
		),
		Answer: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "mark answered"),
		),
		Reject: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "reject"),
		),
		Restore: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "restore"),
		),
		Purge: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "delete forever"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
	}
}

// helpBindings lists the bindings shown in the help overlay.
func (k keyMap) helpBindings(moderator bool) []key.Binding {
	b := []key.Binding{k.NextTab, k.PrevTab, k.Up, k.Down, k.Sort, k.Refresh, k.Ask, k.Upvote, k.Report}
	if moderator {
		b = append(b, k.Answer, k.Reject, k.Restore, k.Purge)
	}
	return append(b, k.Help, k.Quit)
}
