package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-dealroom/pkg/core/clock"
	"github.com/vango-go/vai-dealroom/pkg/core/market"
	"github.com/vango-go/vai-dealroom/pkg/core/negotiation"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

const (
	barWidth        = 24
	transcriptLines = 8
)

type styles struct {
	title    lipgloss.Style
	label    lipgloss.Style
	muted    lipgloss.Style
	value    lipgloss.Style
	best     lipgloss.Style
	selected lipgloss.Style
	warn     lipgloss.Style
	err      lipgloss.Style
	ok       lipgloss.Style
	panel    lipgloss.Style
	banner   lipgloss.Style
	agent    lipgloss.Style
	caller   lipgloss.Style
}

func defaultStyles() styles {
	border := lipgloss.RoundedBorder()
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff71ce")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("#01cdfe")),
		muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		value:    lipgloss.NewStyle().Bold(true),
		best:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#05ffa1")),
		selected: lipgloss.NewStyle().Foreground(lipgloss.Color("#fffb96")),
		warn:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffb86c")),
		err:      lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")),
		ok:       lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
		panel:    lipgloss.NewStyle().Border(border).BorderForeground(lipgloss.Color("#b967ff")).Padding(0, 1),
		banner:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#05ffa1")).Padding(0, 2),
		agent:    lipgloss.NewStyle().Foreground(lipgloss.Color("#b967ff")),
		caller:   lipgloss.NewStyle().Foreground(lipgloss.Color("#01cdfe")),
	}
}

func (m model) View() string {
	if !m.haveSnap {
		return m.spinner.View() + " loading deal room...\n"
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")
	if m.snap.ShowGuide {
		b.WriteString(m.viewGuide())
		b.WriteString("\n")
	}
	if m.snap.Deal != nil {
		b.WriteString(m.viewDeal(*m.snap.Deal))
		b.WriteString("\n")
	}

	left := m.viewMarket()
	right := m.viewAgent()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	b.WriteString("\n")
	b.WriteString(m.viewTranscript())
	b.WriteString("\n")
	if notices := m.viewNotices(); notices != "" {
		b.WriteString(notices)
		b.WriteString("\n")
	}
	if m.mode != inputNone {
		b.WriteString(m.input.View())
		b.WriteString(m.styles.muted.Render("  (enter to submit, esc to cancel)"))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m model) viewHeader() string {
	s := m.styles
	p := m.snap.Product

	state := m.snap.State.String()
	if m.busy || m.snap.State == negotiation.StateStarting {
		state = m.spinner.View() + " " + state
	}

	line1 := s.title.Render("DEAL ROOM") + "  " + s.value.Render(p.Name) +
		s.muted.Render("  "+m.snap.Phase) + "  " + s.label.Render("state ") + state

	elapsed := clock.FormatElapsed(m.snap.Elapsed)
	freeze := clock.FormatRemaining(m.snap.FreezeRemaining, m.snap.FreezeKnown)
	end := clock.FormatRemaining(m.snap.EndRemaining, m.snap.EndKnown)
	line2 := s.label.Render("elapsed ") + elapsed +
		s.label.Render("   bids lock in ") + freeze +
		s.label.Render("   call ends in ") + end
	if m.snap.SlidersFrozen {
		line2 += "  " + s.warn.Render("BIDS LOCKED")
	}
	if m.snap.EndingSoon {
		line2 += "  " + s.warn.Render("ENDING SOON")
	}
	return line1 + "\n" + line2
}

func (m model) viewGuide() string {
	lines := []string{
		"Press s to call the sales agent. It sees the buyer offers below and",
		"tries to beat the best one. Move bids with h/l while the call is live.",
		"Bids lock before the call ends. Press a to accept a buyer, or c to close",
		"with whoever is highest. Press g to hide this guide.",
	}
	return m.styles.panel.Render(m.styles.muted.Render(strings.Join(lines, "\n")))
}

func (m model) viewDeal(d negotiation.Deal) string {
	who := d.Name
	if d.ByCaller() {
		who = "the caller"
	}
	return m.styles.banner.Render(fmt.Sprintf("SOLD to %s for %s", who, money(d.Price)))
}

func (m model) viewMarket() string {
	s := m.styles
	p := m.snap.Product

	var b strings.Builder
	b.WriteString(s.label.Render("base ") + money(p.Floor) + s.label.Render("   sticker ") + money(p.Target))
	b.WriteString("\n\n")

	bestID := -1
	if m.snap.BestBid != nil {
		bestID = m.snap.BestBid.ID
	}
	for i, buyer := range m.snap.Buyers {
		b.WriteString(m.viewBuyer(i, buyer, buyer.ID == bestID))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.snap.UserOffer > 0 {
		status := s.muted.Render(m.snap.UserOfferStatus)
		if m.snap.UserOfferStatus == "HIGHEST" {
			status = s.best.Render(m.snap.UserOfferStatus)
		}
		b.WriteString(s.caller.Render("caller offer ") + money(m.snap.UserOffer) + "  " + status)
	} else {
		b.WriteString(s.muted.Render("caller has not made an offer"))
	}
	if !m.snap.SlidersEnabled() {
		b.WriteString("\n" + s.muted.Render("bids are read-only right now"))
	}
	return s.panel.Render(b.String())
}

func (m model) viewBuyer(i int, buyer market.Buyer, best bool) string {
	s := m.styles
	cursor := "  "
	name := fmt.Sprintf("%-10s", buyer.Name)
	if i == m.selected {
		cursor = s.selected.Render("> ")
		name = s.selected.Render(name)
	}
	line := cursor + name + " " + bar(buyer) + " " + s.value.Render(fmt.Sprintf("%8s", money(buyer.Offer)))
	if best {
		line += " " + s.best.Render("BEST")
	}
	return line
}

// bar renders the offer's position within the buyer's [Min, Max] range.
func bar(b market.Buyer) string {
	filled := barWidth
	if span := b.Max - b.Min; span > 0 {
		filled = (b.Offer - b.Min) * barWidth / span
	}
	filled = min(barWidth, max(0, filled))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled) + "]"
}

func (m model) viewAgent() string {
	s := m.styles
	var b strings.Builder
	b.WriteString(s.label.Render("link    ") + statusLabel(s, m.snap.AdapterStatus))
	b.WriteString("\n")
	speaking := s.muted.Render("listening")
	if m.snap.AgentSpeaking {
		speaking = s.agent.Render("speaking")
	}
	b.WriteString(s.label.Render("agent   ") + speaking)
	b.WriteString("\n")
	if m.snap.AgentPhase != "" {
		b.WriteString(s.label.Render("phase   ") + m.snap.AgentPhase + "\n")
	}
	if m.snap.LastReason != "" {
		b.WriteString(s.label.Render("reason  ") + s.muted.Render(truncate(m.snap.LastReason, 36)) + "\n")
	}
	if m.snap.SessionID != "" {
		b.WriteString(s.label.Render("session ") + s.muted.Render(m.snap.SessionID))
	}
	return s.panel.Render(strings.TrimRight(b.String(), "\n"))
}

func statusLabel(s styles, st voice.Status) string {
	switch st {
	case voice.StatusConnected:
		return s.ok.Render(string(st))
	case voice.StatusConnecting:
		return s.warn.Render(string(st))
	case voice.StatusDisconnected:
		return s.err.Render(string(st))
	default:
		return s.muted.Render(string(st))
	}
}

func (m model) viewTranscript() string {
	s := m.styles
	lines := m.snap.Transcript
	if n := len(lines) - transcriptLines; n > 0 {
		lines = lines[n:]
	}
	if len(lines) == 0 {
		return s.muted.Render("no conversation yet")
	}
	var b strings.Builder
	for _, msg := range lines {
		switch msg.Source {
		case voice.SourceAgent:
			b.WriteString(s.agent.Render("agent  ") + msg.Text)
		default:
			b.WriteString(s.caller.Render("caller ") + msg.Text)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) viewNotices() string {
	var out []string
	for _, n := range m.notices {
		st := m.styles.muted
		if n.isErr {
			st = m.styles.err
		}
		out = append(out, st.Render(n.at.Format("15:04:05")+" "+n.text))
	}
	return strings.Join(out, "\n")
}

// money formats whole dollars with thousands separators.
func money(v int) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	digits := fmt.Sprintf("%d", v)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
