package negotiation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vango-go/vai-dealroom/pkg/core"
)

// Tool names registered with the voice agent.
const (
	ToolReportCallerOffer    = "report_caller_offer"
	ToolGetMarketState       = "get_market_state"
	ToolGetCurrentBids       = "get_current_bids"
	ToolGetThresholds        = "get_thresholds"
	ToolGetNegotiationPolicy = "get_negotiation_policy"
	ToolSetPhase             = "set_phase"
)

// ToolNames lists every tool the orchestrator serves.
func ToolNames() []string {
	return []string{
		ToolReportCallerOffer,
		ToolGetMarketState,
		ToolGetCurrentBids,
		ToolGetThresholds,
		ToolGetNegotiationPolicy,
		ToolSetPhase,
	}
}

// ToolCall is one decoded agent tool invocation. The set of implementations
// is closed.
type ToolCall interface {
	ToolName() string
	isToolCall()
}

// ReportCallerOffer carries a price the agent heard from the caller.
type ReportCallerOffer struct{ Offer float64 }

type GetMarketState struct{}

type GetCurrentBids struct{}

type GetThresholds struct{}

type GetNegotiationPolicy struct{}

// SetPhase records the agent's self-reported conversation phase.
type SetPhase struct{ Phase string }

func (ReportCallerOffer) ToolName() string { return ToolReportCallerOffer }
func (GetMarketState) ToolName() string { return ToolGetMarketState }
func (GetCurrentBids) ToolName() string { return ToolGetCurrentBids }
func (GetThresholds) ToolName() string { return ToolGetThresholds }
func (GetNegotiationPolicy) ToolName() string { return ToolGetNegotiationPolicy }
func (SetPhase) ToolName() string { return ToolSetPhase }

func (ReportCallerOffer) isToolCall() {}
func (GetMarketState) isToolCall() {}
func (GetCurrentBids) isToolCall() {}
func (GetThresholds) isToolCall() {}
func (GetNegotiationPolicy) isToolCall() {}
func (SetPhase) isToolCall() {}

var offerKeys = []string{"offer", "amount", "price", "value"}

// ParseToolCall decodes a raw invocation into its typed variant. Unknown
// names and malformed arguments yield a tool invocation error.
func ParseToolCall(name string, params map[string]any) (ToolCall, error) {
	name = strings.TrimSpace(name)
	switch name {
	case ToolReportCallerOffer:
		for _, key := range offerKeys {
			raw, ok := params[key]
			if !ok {
				continue
			}
			v, err := toNumber(raw)
			if err != nil {
				return nil, core.NewToolInvocationError(name, fmt.Sprintf("%s: %v", key, err))
			}
			return ReportCallerOffer{Offer: v}, nil
		}
		return nil, core.NewToolInvocationError(name, "missing numeric offer")
	case ToolGetMarketState:
		return GetMarketState{}, nil
	case ToolGetCurrentBids:
		return GetCurrentBids{}, nil
	case ToolGetThresholds:
		return GetThresholds{}, nil
	case ToolGetNegotiationPolicy:
		return GetNegotiationPolicy{}, nil
	case ToolSetPhase:
		phase, _ := params["phase"].(string)
		phase = strings.TrimSpace(phase)
		if phase == "" {
			return nil, core.NewToolInvocationError(name, "missing phase")
		}
		return SetPhase{Phase: phase}, nil
	default:
		return nil, core.NewToolInvocationError(name, "unknown tool")
	}
}

func toNumber(raw any) (float64, error) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		v = f
	case string:
		s := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(n))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		v = f
	default:
		return 0, fmt.Errorf("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}
