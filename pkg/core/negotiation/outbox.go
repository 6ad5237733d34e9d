package negotiation

import (
	"context"
)

type sendKind int

const (
	sendContextual sendKind = iota
	sendUserMessage
)

func (k sendKind) String() string {
	if k == sendUserMessage {
		return "user_message"
	}
	return "contextual_update"
}

type outbound struct {
	sessionID string
	ctx       context.Context
	kind      sendKind
	text      string
	// done is set for closing lines whose sender waits on delivery.
	done chan error
}

// enqueue hands a message to the outbox without blocking the loop. A full
// queue drops the message; the next sync tick resends market state.
func (o *Orchestrator) enqueue(kind sendKind, text string) {
	msg := outbound{sessionID: o.sess.id, ctx: o.sess.ctx, kind: kind, text: text}
	select {
	case o.outbox <- msg:
	default:
		o.logger.Warn("outbox full; message dropped", "session_id", o.sess.id, "kind", kind.String())
	}
}

func (o *Orchestrator) sendAndWait(ctx context.Context, sessionID string, msg outbound) error {
	msg.sessionID = sessionID
	msg.ctx = ctx
	msg.done = make(chan error, 1)
	select {
	case o.outbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runOutbox performs adapter sends one at a time in FIFO order.
func (o *Orchestrator) runOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.outbox:
			err := msg.ctx.Err()
			if err == nil {
				sendCtx, cancel := context.WithTimeout(msg.ctx, o.cfg.SendTimeout)
				switch msg.kind {
				case sendUserMessage:
					err = o.conv.SendUserMessage(sendCtx, msg.text)
				default:
					err = o.conv.SendContextualUpdate(sendCtx, msg.text)
				}
				cancel()
			}
			if msg.done != nil {
				msg.done <- err
			}
			o.post(sendResultEvent{sessionID: msg.sessionID, kind: msg.kind, closing: msg.done != nil, err: err})
		}
	}
}
