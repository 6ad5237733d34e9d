package main

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Start     key.Binding
	Stop      key.Binding
	Accept    key.Binding
	CloseBest key.Binding
	Up        key.Binding
	Down      key.Binding
	Raise     key.Binding
	Lower     key.Binding
	RaiseBig  key.Binding
	LowerBig  key.Binding
	Offer     key.Binding
	Floor     key.Binding
	Target    key.Binding
	Say       key.Binding
	Guide     key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start call")),
		Stop:      key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "end call")),
		Accept:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "accept buyer")),
		CloseBest: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "close with best")),
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "prev buyer")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next buyer")),
		Raise:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "raise bid")),
		Lower:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "lower bid")),
		RaiseBig:  key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "raise x10")),
		LowerBig:  key.NewBinding(key.WithKeys("["), key.WithHelp("[", "lower x10")),
		Offer:     key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "caller offer")),
		Floor:     key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "base price")),
		Target:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "sticker price")),
		Say:       key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "message agent")),
		Guide:     key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "hide guide")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Accept, k.CloseBest, k.Offer, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Stop, k.Accept, k.CloseBest},
		{k.Up, k.Down, k.Raise, k.Lower, k.RaiseBig, k.LowerBig},
		{k.Offer, k.Floor, k.Target, k.Say},
		{k.Guide, k.Help, k.Quit},
	}
}
