package negotiation

import (
	"context"

	"github.com/vango-go/vai-dealroom/pkg/core/market"
)

// Accepts reports whether a caller offer wins outright: strictly above the
// best competing bid and at least the floor.
func Accepts(userOffer, bestBid, floor int) bool {
	return userOffer > bestBid && userOffer >= floor
}

func (o *Orchestrator) canClose() bool {
	return (o.state == StateActive || o.state == StateFrozen) && o.deal == nil
}

// evaluateAcceptance closes the deal for the caller as soon as their offer
// wins. The deal guard is set synchronously, so later triggers in the same
// session are no-ops.
func (o *Orchestrator) evaluateAcceptance(trigger string) {
	if !o.canClose() {
		return
	}
	p := o.book.Product()
	u := o.book.UserOffer()
	best := o.book.BestPrice()
	if !Accepts(u, best, p.Floor) {
		return
	}
	o.logger.Info("caller offer accepted", "session_id", o.sess.id, "offer", u, "best_bid", best, "floor", p.Floor, "trigger", trigger)
	o.beginClosing(&Deal{BuyerID: CallerID, Name: callerName, Price: u}, "caller offer accepted",
		outbound{kind: sendContextual, text: callerWinsUpdateText(p, u)},
		outbound{kind: sendUserMessage, text: callerWinsUserText(p, u)},
	)
}

func (o *Orchestrator) closeWithBuyer(b market.Buyer) {
	p := o.book.Product()
	o.logger.Info("buyer offer accepted", "session_id", o.sess.id, "buyer_id", b.ID, "offer", b.Offer)
	o.beginClosing(&Deal{BuyerID: b.ID, Name: b.Name, Price: b.Offer}, "buyer offer accepted",
		outbound{kind: sendContextual, text: soldElsewhereUpdateText(p)},
		outbound{kind: sendUserMessage, text: soldElsewhereUserText(p)},
	)
}

// beginClosing records the deal, locks the market and hands the scripted
// lines to a finalize goroutine that lets the agent finish speaking before
// hanging up.
func (o *Orchestrator) beginClosing(deal *Deal, reason string, lines ...outbound) {
	if deal != nil {
		o.deal = deal
		o.frozen = true
	}
	o.endingSoon = true
	o.state = StateClosing
	o.logger.Info("closing negotiation", "session_id", o.sess.id, "reason", reason)

	sess := o.sess
	go o.finalize(sess.ctx, sess.id, lines)
}

func (o *Orchestrator) finalize(ctx context.Context, sessionID string, lines []outbound) {
	for _, line := range lines {
		if err := o.sendAndWait(ctx, sessionID, line); err != nil {
			o.logger.Debug("closing line not delivered", "session_id", sessionID, "error", err)
		}
	}
	settled := waitForSpeechSettle(ctx, o.conv.IsSpeaking, o.cfg.SpeechPollInterval, o.cfg.SpeechQuietWindow, o.cfg.SpeechMaxWait)
	if !settled && ctx.Err() == nil {
		o.logger.Info("agent still speaking at close; ending anyway", "session_id", sessionID)
	}
	// The loop's teardown ends the conversation, so the adapter's own
	// disconnect callback arrives for a session that is already idle.
	o.post(finalizedEvent{sessionID: sessionID})
}

func (o *Orchestrator) updateUserOffer(value float64, source string) int {
	prev := o.book.UserOffer()
	next := o.book.SetUserOffer(value)
	if next == prev {
		return next
	}
	sessionID := ""
	if o.sess != nil {
		sessionID = o.sess.id
	}
	o.logger.Info("caller offer changed", "session_id", sessionID, "from", prev, "to", next, "source", source)
	o.evaluateAcceptance(source)
	return next
}
