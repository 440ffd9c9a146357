package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Up          key.Binding
	Down        key.Binding
	Disconnect  key.Binding
	TimeoutUp   key.Binding
	TimeoutDown key.Binding
	Help        key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("x", "d"),
			key.WithHelp("x", "disconnect"),
		),
		TimeoutUp: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "timeout +30s"),
		),
		TimeoutDown: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "timeout -30s"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more keys"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Disconnect, k.TimeoutUp, k.TimeoutDown, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Disconnect, k.TimeoutUp, k.TimeoutDown},
		{k.Help, k.Quit},
	}
}
