package negotiation

import (
	"time"

	"github.com/vango-go/vai-dealroom/pkg/core/market"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

// State is the orchestrator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateFrozen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateFrozen:
		return "frozen"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// live reports whether the voice connection is up from the orchestrator's
// point of view.
func (s State) live() bool {
	return s == StateActive || s == StateFrozen || s == StateClosing
}

// Negotiation phase labels shown to the operator.
const (
	PhaseWaiting = "WAITING_TO_START"
	PhaseActive  = "ACTIVE_NEGOTIATION"
	PhaseClosing = "CLOSING_DEAL"
)

// CallerID is the Deal.BuyerID used when the live caller wins.
const CallerID = 0

const callerName = "Caller"

// Deal is an accepted sale. It never changes once set within a session.
type Deal struct {
	BuyerID int
	Name    string
	Price   int
}

// ByCaller reports whether the live caller won the deal.
func (d Deal) ByCaller() bool { return d.BuyerID == CallerID }

// Notice is a user-visible event raised outside an operator command.
type Notice struct {
	Message string
	Err     error
	At      time.Time
}

// Snapshot is a read-only view of the orchestrator for presentation.
type Snapshot struct {
	State     State
	Phase     string
	SessionID string

	Product   market.Product
	Buyers    []market.Buyer
	BestBid   *market.Buyer
	UserOffer int
	// UserOfferStatus is HIGHEST or COMPETING; empty with no caller offer.
	UserOfferStatus string

	Deal          *Deal
	SlidersFrozen bool
	EndingSoon    bool
	ShowGuide     bool

	ConnectedAt     time.Time
	Elapsed         time.Duration
	FreezeRemaining time.Duration
	FreezeKnown     bool
	EndRemaining    time.Duration
	EndKnown        bool

	AdapterStatus voice.Status
	AgentSpeaking bool
	AgentPhase    string
	LastReason    string
	Transcript    []voice.Message
}

// SlidersEnabled reports whether buyer offers may be edited.
func (s Snapshot) SlidersEnabled() bool {
	return s.State == StateActive && !s.SlidersFrozen && s.Deal == nil
}
