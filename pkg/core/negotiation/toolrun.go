package negotiation

import (
	"context"
	"fmt"

	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

// toolFuncs binds every tool to sessionID. Calls are executed on the Run
// goroutine.
func (o *Orchestrator) toolFuncs(sessionID string) map[string]voice.ToolFunc {
	tools := make(map[string]voice.ToolFunc, len(ToolNames()))
	for _, name := range ToolNames() {
		tools[name] = func(ctx context.Context, params map[string]any) (string, error) {
			reply := make(chan toolReply, 1)
			select {
			case o.events <- toolEvent{sessionID: sessionID, name: name, params: params, reply: reply}:
			case <-ctx.Done():
				return "", core.NewToolInvocationError(name, "cancelled")
			case <-o.done:
				return "", core.NewToolInvocationError(name, "orchestrator stopped")
			}
			select {
			case r := <-reply:
				return r.result, r.err
			case <-ctx.Done():
				return "", core.NewToolInvocationError(name, "cancelled")
			case <-o.done:
				return "", core.NewToolInvocationError(name, "orchestrator stopped")
			}
		}
	}
	return tools
}

func (o *Orchestrator) handleTool(name string, params map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("tool panic", "tool", name, "panic", r)
			result, err = "", core.NewToolInvocationError(name, fmt.Sprintf("internal error: %v", r))
		}
	}()

	call, err := ParseToolCall(name, params)
	if err != nil {
		o.logger.Warn("rejected tool call", "session_id", o.sess.id, "tool", name, "error", err)
		return "", err
	}

	p := o.book.Product()
	top := o.book.BestPrice()
	switch c := call.(type) {
	case ReportCallerOffer:
		next := o.updateUserOffer(c.Offer, "agent")
		return fmt.Sprintf("user_offer=%d", next), nil
	case GetMarketState:
		return marketStateResult(p, top, o.book.UserOffer(), o.deal), nil
	case GetCurrentBids:
		return currentBidsResult(p, top, o.book.UserOffer()), nil
	case GetThresholds:
		return thresholdsResult(p), nil
	case GetNegotiationPolicy:
		return negotiationPolicyResult(p, top, o.book.UserOffer()), nil
	case SetPhase:
		o.sess.agentPhase = c.Phase
		o.logger.Info("agent phase", "session_id", o.sess.id, "phase", c.Phase)
		return phaseResult(c.Phase), nil
	default:
		return "", core.NewToolInvocationError(name, "unsupported tool")
	}
}
