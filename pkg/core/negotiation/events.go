package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

type event interface {
	session() string
}

type connectedEvent struct{ sessionID string }

type disconnectedEvent struct {
	sessionID string
	reason    string
}

type adapterErrorEvent struct {
	sessionID string
	err       error
}

type messageEvent struct {
	sessionID string
	msg       voice.Message
}

type startFailedEvent struct {
	sessionID string
	err       error
}

type deadlineKind int

const (
	deadlineFreeze deadlineKind = iota
	deadlineEnd
)

type deadlineEvent struct {
	sessionID string
	kind      deadlineKind
}

type sendResultEvent struct {
	sessionID string
	kind      sendKind
	closing   bool
	err       error
}

type finalizedEvent struct{ sessionID string }

type toolEvent struct {
	sessionID string
	name      string
	params    map[string]any
	reply     chan toolReply
}

type toolReply struct {
	result string
	err    error
}

func (e connectedEvent) session() string    { return e.sessionID }
func (e disconnectedEvent) session() string { return e.sessionID }
func (e adapterErrorEvent) session() string { return e.sessionID }
func (e messageEvent) session() string      { return e.sessionID }
func (e startFailedEvent) session() string  { return e.sessionID }
func (e deadlineEvent) session() string     { return e.sessionID }
func (e sendResultEvent) session() string   { return e.sessionID }
func (e finalizedEvent) session() string    { return e.sessionID }
func (e toolEvent) session() string         { return e.sessionID }

func (o *Orchestrator) handleEvent(ev event) {
	if !o.current(ev.session()) {
		if te, ok := ev.(toolEvent); ok {
			te.reply <- toolReply{err: core.NewToolInvocationError(te.name, "session is no longer active")}
		}
		return
	}

	switch ev := ev.(type) {
	case connectedEvent:
		o.onConnected()
	case disconnectedEvent:
		reason := "agent disconnected"
		if ev.reason != "" {
			reason += ": " + ev.reason
		}
		o.teardown(reason, nil)
	case adapterErrorEvent:
		if !o.state.live() && o.state != StateStarting {
			return
		}
		o.logger.Warn("voice adapter error", "session_id", ev.sessionID, "error", ev.err)
		if o.state == StateClosing {
			o.teardown("adapter error while closing", nil)
			return
		}
		o.teardown("adapter error", ev.err)
	case messageEvent:
		o.appendTranscript(ev.msg)
	case startFailedEvent:
		if o.state != StateStarting {
			return
		}
		o.sess.cancel()
		o.state = StateIdle
		o.lastReason = "start failed"
		o.logger.Warn("negotiation start failed", "session_id", ev.sessionID, "error", ev.err)
	case deadlineEvent:
		o.onDeadline(ev.kind)
	case sendResultEvent:
		o.onSendResult(ev)
	case finalizedEvent:
		o.teardown("deal closed", nil)
	case toolEvent:
		result, err := o.handleTool(ev.name, ev.params)
		ev.reply <- toolReply{result: result, err: err}
	}
}

func (o *Orchestrator) onConnected() {
	switch o.state {
	case StateStarting:
	case StateIdle:
		// Stopped while connecting.
		go o.endConversation()
		return
	default:
		return
	}

	connectedAt := o.clock.OnConnect()
	o.state = StateActive
	o.scheduleDeadlines()

	p := o.book.Product()
	top := o.book.BestPrice()
	o.enqueue(sendContextual, sessionStartText(o.sess.id, p, top, o.book.UserOffer()))
	o.sess.fingerprint = o.fingerprint()
	o.sess.lastSendAt = o.now()
	o.sess.lastTopBid = top

	o.logger.Info("negotiation connected", "session_id", o.sess.id, "connected_at", connectedAt)
	o.evaluateAcceptance("connect")
}

func (o *Orchestrator) scheduleDeadlines() {
	sessionID := o.sess.id
	fire := func(kind deadlineKind) func() {
		return func() { o.post(deadlineEvent{sessionID: sessionID, kind: kind}) }
	}
	o.sess.stopTimers()
	if at, ok := o.clock.FreezeAt(); ok {
		d, _ := o.clock.RemainingUntil(at)
		o.sess.freezeTimer = time.AfterFunc(d, fire(deadlineFreeze))
	}
	if at, ok := o.clock.EndAt(); ok {
		d, _ := o.clock.RemainingUntil(at)
		o.sess.endTimer = time.AfterFunc(d, fire(deadlineEnd))
	}
}

func (o *Orchestrator) onDeadline(kind deadlineKind) {
	if !o.state.live() {
		return
	}
	switch kind {
	case deadlineFreeze:
		if o.state == StateActive {
			o.enterFreeze()
		}
	case deadlineEnd:
		o.logger.Info("negotiation time limit reached", "session_id", o.sess.id)
		o.notify("Session ended due to timeout.", nil)
		o.teardown("time limit reached", nil)
	}
}

func (o *Orchestrator) enterFreeze() {
	o.state = StateFrozen
	o.frozen = true
	o.logger.Info("bidding frozen", "session_id", o.sess.id)
	o.enqueue(sendContextual, freezeText(o.book.Product(), o.book.BestPrice()))
	o.evaluateAcceptance("freeze")
}

// teardown is the single path back to idle. It is a no-op when already
// idle, so racing disconnect signals converge once.
func (o *Orchestrator) teardown(reason string, noticeErr error) {
	if o.state == StateIdle || o.sess == nil {
		return
	}
	prev := o.state
	o.sess.stopTimers()
	o.sess.cancel()
	o.clock.OnDisconnect()
	o.state = StateIdle
	o.endingSoon = false
	o.frozen = o.deal != nil
	o.lastReason = reason

	o.logger.Info("negotiation ended", "session_id", o.sess.id, "reason", reason, "from", prev.String(), "deal", o.deal != nil)
	if noticeErr != nil {
		o.notify(noticeMessage(reason, noticeErr), noticeErr)
	}
	if prev != StateStarting {
		go o.endConversation()
	}
}

func noticeMessage(reason string, err error) string {
	var ce *core.Error
	if errors.As(err, &ce) && ce.UserVisible() {
		return ce.Message
	}
	if core.IsType(err, core.ErrChannel) {
		return "Lost connection to the voice agent."
	}
	return "Session ended: " + reason + "."
}

func (o *Orchestrator) endConversation() {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EndSessionTimeout)
	defer cancel()
	if err := o.conv.EndSession(ctx); err != nil {
		o.logger.Debug("end session failed", "error", err)
	}
}

func (o *Orchestrator) onSendResult(ev sendResultEvent) {
	if ev.err == nil {
		o.sess.channelFailures = 0
		return
	}
	if !o.state.live() || ev.closing || o.state == StateClosing || errors.Is(ev.err, context.Canceled) {
		o.logger.Debug("send failed while ending", "session_id", ev.sessionID, "error", ev.err)
		return
	}
	o.sess.channelFailures++
	closed := errors.Is(ev.err, voice.ErrChannelClosed)
	o.logger.Warn("contextual send failed", "session_id", ev.sessionID, "failures", o.sess.channelFailures, "closed", closed, "error", ev.err)
	if closed || o.sess.channelFailures >= o.cfg.ChannelErrorStreak {
		err := ev.err
		if !core.IsType(err, core.ErrChannel) {
			err = core.NewChannelError("voice channel failed", err)
		}
		o.teardown("voice channel failed", err)
	}
}

// syncTick pushes market state to the agent: a full update when the
// fingerprint changed, otherwise a heartbeat at most every
// HeartbeatInterval. Both decisions read one snapshot.
func (o *Orchestrator) syncTick() {
	if o.state != StateActive && o.state != StateFrozen {
		return
	}
	now := o.now()
	p := o.book.Product()
	top := o.book.BestPrice()
	user := o.book.UserOffer()
	fp := fingerprintOf(o.sess.id, p.Name, p.Description, p.Floor, p.Target, top, user)

	if o.deal == nil && o.sess.lastTopBid > 0 && top > o.sess.lastTopBid {
		o.logger.Info("top bid increased", "session_id", o.sess.id, "from", o.sess.lastTopBid, "to", top)
		o.enqueue(sendContextual, bidIncreaseUpdateText(top))
		o.enqueue(sendUserMessage, bidIncreaseUserText(p, top))
	}
	o.sess.lastTopBid = top

	switch {
	case fp != o.sess.fingerprint:
		o.enqueue(sendContextual, marketUpdateText(p, top, user))
		o.sess.fingerprint = fp
		o.sess.lastSendAt = now
	case now.Sub(o.sess.lastSendAt) >= o.cfg.HeartbeatInterval:
		o.enqueue(sendContextual, heartbeatText(o.sess.id, top, user))
		o.sess.lastSendAt = now
	}
}

func (o *Orchestrator) fingerprint() string {
	p := o.book.Product()
	return fingerprintOf(o.sess.id, p.Name, p.Description, p.Floor, p.Target, o.book.BestPrice(), o.book.UserOffer())
}

func fingerprintOf(sessionID, name, description string, floor, target, top, user int) string {
	return fmt.Sprintf("%s|%q|%q|%d|%d|%d|%d", sessionID, name, description, floor, target, top, user)
}

// watchdogTick reconciles the orchestrator with the adapter's own view and
// catches deadlines whose timers were delayed.
func (o *Orchestrator) watchdogTick() {
	if !o.state.live() {
		return
	}
	if st := o.conv.Status(); st != voice.StatusConnected {
		o.teardown(fmt.Sprintf("voice adapter reports %s", st), core.NewChannelError("voice agent connection lost", voice.ErrChannelClosed))
		return
	}
	now := o.now()
	if last := o.conv.LastActivity(); o.cfg.StaleAfter > 0 && !last.IsZero() && now.Sub(last) > o.cfg.StaleAfter {
		o.teardown("voice adapter went silent", core.NewChannelError("voice agent stopped responding", nil))
		return
	}
	if at, ok := o.clock.EndAt(); ok && !now.Before(at) {
		o.onDeadline(deadlineEnd)
		return
	}
	if at, ok := o.clock.FreezeAt(); ok && !now.Before(at) && o.state == StateActive {
		o.enterFreeze()
	}
}

func (o *Orchestrator) appendTranscript(msg voice.Message) {
	o.transcript = append(o.transcript, msg)
	if n := len(o.transcript) - o.cfg.TranscriptSize; n > 0 {
		o.transcript = append([]voice.Message(nil), o.transcript[n:]...)
	}
}
