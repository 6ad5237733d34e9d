package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/core/clock"
	"github.com/vango-go/vai-dealroom/pkg/core/market"
	"github.com/vango-go/vai-dealroom/pkg/core/negotiation"
)

// negotiator is the orchestrator surface the console drives.
type negotiator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	AcceptBuyer(ctx context.Context, id int) (bool, error)
	CloseAndAcceptBest(ctx context.Context) (bool, error)
	SetProductConfig(ctx context.Context, floor, target int, name, description string) error
	SetBuyerOffer(ctx context.Context, id, offer int) error
	SetUserOffer(ctx context.Context, offer float64) error
	SendOperatorMessage(ctx context.Context, text string) error
	DismissGuide(ctx context.Context) error
	Snapshot(ctx context.Context) (negotiation.Snapshot, error)
	Notices() <-chan negotiation.Notice
}

type inputMode int

const (
	inputNone inputMode = iota
	inputUserOffer
	inputFloor
	inputTarget
	inputMessage
)

const maxNotices = 4

type (
	tickMsg     time.Time
	snapshotMsg struct {
		snap negotiation.Snapshot
		err  error
	}
	noticeMsg negotiation.Notice
	actionMsg struct {
		info string
		err  error
	}
)

type noticeLine struct {
	text  string
	isErr bool
	at    time.Time
}

type model struct {
	ctx  context.Context
	orch negotiator

	snap     negotiation.Snapshot
	haveSnap bool
	selected int

	mode    inputMode
	input   textinput.Model
	notices []noticeLine
	busy    bool

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	styles  styles
	width   int
}

func newModel(ctx context.Context, orch negotiator) model {
	in := textinput.New()
	in.CharLimit = 240
	in.Width = 40

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	return model{
		ctx:     ctx,
		orch:    orch,
		input:   in,
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: sp,
		styles:  defaultStyles(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.snapshotCmd(),
		tickEvery(clock.DisplayInterval),
		waitNotice(m.orch.Notices()),
	)
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitNotice(ch <-chan negotiation.Notice) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func (m model) snapshotCmd() tea.Cmd {
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		snap, err := orch.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

// action runs fn off the UI goroutine and reports its outcome.
func (m model) action(fn func(ctx context.Context) (string, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		info, err := fn(ctx)
		return actionMsg{info: info, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.snapshotCmd(), tickEvery(clock.DisplayInterval))

	case snapshotMsg:
		if msg.err != nil {
			if errors.Is(msg.err, negotiation.ErrStopped) {
				return m, tea.Quit
			}
			return m, nil
		}
		m.snap = msg.snap
		m.haveSnap = true
		if n := len(m.snap.Buyers); m.selected >= n {
			m.selected = max(0, n-1)
		}
		return m, nil

	case noticeMsg:
		m.addNotice(msg.Message, msg.Err != nil)
		return m, waitNotice(m.orch.Notices())

	case actionMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.addNotice(describeError(msg.err), true)
		case msg.info != "":
			m.addNotice(msg.info, false)
		}
		return m, m.snapshotCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Guide):
		return m, m.action(func(ctx context.Context) (string, error) {
			return "", m.orch.DismissGuide(ctx)
		})

	case key.Matches(msg, m.keys.Start):
		if m.busy || m.snap.State != negotiation.StateIdle {
			return m, nil
		}
		m.busy = true
		return m, m.action(func(ctx context.Context) (string, error) {
			if err := m.orch.Start(ctx); err != nil {
				return "", err
			}
			return "Connecting to the sales agent...", nil
		})

	case key.Matches(msg, m.keys.Stop):
		return m, m.action(func(ctx context.Context) (string, error) {
			return "Call ended.", m.orch.Stop(ctx)
		})

	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}

	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.snap.Buyers)-1 {
			m.selected++
		}

	case key.Matches(msg, m.keys.Raise):
		return m, m.nudgeSelected(1)
	case key.Matches(msg, m.keys.Lower):
		return m, m.nudgeSelected(-1)
	case key.Matches(msg, m.keys.RaiseBig):
		return m, m.nudgeSelected(10)
	case key.Matches(msg, m.keys.LowerBig):
		return m, m.nudgeSelected(-10)

	case key.Matches(msg, m.keys.Accept):
		b, ok := m.selectedBuyer()
		if !ok {
			return m, nil
		}
		return m, m.action(func(ctx context.Context) (string, error) {
			accepted, err := m.orch.AcceptBuyer(ctx, b.ID)
			if err != nil || !accepted {
				return "", err
			}
			return fmt.Sprintf("Accepting %s's offer...", b.Name), nil
		})

	case key.Matches(msg, m.keys.CloseBest):
		return m, m.action(func(ctx context.Context) (string, error) {
			closed, err := m.orch.CloseAndAcceptBest(ctx)
			if err != nil || !closed {
				return "", err
			}
			return "Closing with the best offer...", nil
		})

	case key.Matches(msg, m.keys.Offer):
		return m.beginInput(inputUserOffer, "caller offer $")

	case key.Matches(msg, m.keys.Floor):
		if m.snap.State != negotiation.StateIdle {
			m.addNotice("Product settings are locked while a call is connected.", true)
			return m, nil
		}
		return m.beginInput(inputFloor, "base price $")

	case key.Matches(msg, m.keys.Target):
		if m.snap.State != negotiation.StateIdle {
			m.addNotice("Product settings are locked while a call is connected.", true)
			return m, nil
		}
		return m.beginInput(inputTarget, "sticker price $")

	case key.Matches(msg, m.keys.Say):
		return m.beginInput(inputMessage, "say ")
	}
	return m, nil
}

func (m model) beginInput(mode inputMode, prompt string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Prompt = prompt
	m.input.SetValue("")
	return m, m.input.Focus()
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = inputNone
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		mode, value := m.mode, strings.TrimSpace(m.input.Value())
		m.mode = inputNone
		m.input.Blur()
		cmd := m.submit(mode, value)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) submit(mode inputMode, value string) tea.Cmd {
	if value == "" {
		return nil
	}
	if mode == inputMessage {
		return m.action(func(ctx context.Context) (string, error) {
			return "", m.orch.SendOperatorMessage(ctx, value)
		})
	}

	amount, err := parseAmount(value)
	if err != nil {
		m.addNotice(err.Error(), true)
		return nil
	}
	p := m.snap.Product
	switch mode {
	case inputUserOffer:
		return m.action(func(ctx context.Context) (string, error) {
			return "", m.orch.SetUserOffer(ctx, amount)
		})
	case inputFloor:
		return m.action(func(ctx context.Context) (string, error) {
			return "", m.orch.SetProductConfig(ctx, int(amount), p.Target, p.Name, p.Description)
		})
	case inputTarget:
		return m.action(func(ctx context.Context) (string, error) {
			return "", m.orch.SetProductConfig(ctx, p.Floor, int(amount), p.Name, p.Description)
		})
	}
	return nil
}

// nudgeSelected moves the selected buyer's bid by steps increments of
// roughly 2.5% of its range.
func (m model) nudgeSelected(steps int) tea.Cmd {
	if !m.snap.SlidersEnabled() {
		return nil
	}
	b, ok := m.selectedBuyer()
	if !ok {
		return nil
	}
	step := max(1, (b.Max-b.Min)/40)
	offer := min(b.Max, max(b.Min, b.Offer+steps*step))
	if offer == b.Offer {
		return nil
	}
	return m.action(func(ctx context.Context) (string, error) {
		return "", m.orch.SetBuyerOffer(ctx, b.ID, offer)
	})
}

func (m model) selectedBuyer() (market.Buyer, bool) {
	if m.selected < 0 || m.selected >= len(m.snap.Buyers) {
		return market.Buyer{}, false
	}
	return m.snap.Buyers[m.selected], true
}

func (m *model) addNotice(text string, isErr bool) {
	if text == "" {
		return
	}
	m.notices = append(m.notices, noticeLine{text: text, isErr: isErr, at: time.Now()})
	if n := len(m.notices) - maxNotices; n > 0 {
		m.notices = m.notices[n:]
	}
}

// parseAmount accepts "1200", "$1,200" and "1200.50".
func parseAmount(raw string) (float64, error) {
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%q is not a valid amount", raw)
	}
	return v, nil
}

// describeError renders operator-facing text with guidance for the error
// classes a retry can fix.
func describeError(err error) string {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		return err.Error()
	}
	switch coreErr.Type {
	case core.ErrPermission:
		return coreErr.Message + " Check that a microphone is connected and allowed."
	case core.ErrCredential:
		return coreErr.Message + " Is the token gateway running? Try again."
	case core.ErrConnection:
		return coreErr.Message + " Check your network and try again."
	default:
		return coreErr.Message
	}
}
