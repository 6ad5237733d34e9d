// Package negotiation runs the live sale: it keeps the market model in sync
// with the hosted voice agent, enforces the freeze and end deadlines, and
// closes deals.
//
// All state is owned by the Run goroutine. Public methods post work to it
// and wait for the result; adapter callbacks, tool calls, timers and send
// results arrive as events tagged with the session id they belong to, and
// events from an earlier session are dropped.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/core/clock"
	"github.com/vango-go/vai-dealroom/pkg/core/market"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

// ErrStopped is returned by methods called after Run has exited.
var ErrStopped = errors.New("negotiation: orchestrator stopped")

// Microphone gates a session on microphone access.
type Microphone interface {
	Acquire(ctx context.Context) error
}

// CredentialSource fetches a short-lived conversation token.
type CredentialSource interface {
	Fetch(ctx context.Context) (string, error)
}

// Config holds the negotiation timings and queue sizes. Zero fields take
// the DefaultConfig values.
type Config struct {
	FreezeAfter time.Duration
	EndAfter    time.Duration

	SyncInterval      time.Duration
	HeartbeatInterval time.Duration
	WatchdogInterval  time.Duration
	// StaleAfter ends a session whose adapter has been silent this long.
	// Zero disables the check.
	StaleAfter time.Duration

	SpeechPollInterval time.Duration
	SpeechQuietWindow  time.Duration
	SpeechMaxWait      time.Duration

	SendTimeout        time.Duration
	EndSessionTimeout  time.Duration
	ChannelErrorStreak int
	OutboxSize         int
	TranscriptSize     int
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		FreezeAfter:        clock.DefaultFreezeAfter,
		EndAfter:           clock.DefaultEndAfter,
		SyncInterval:       time.Second,
		HeartbeatInterval:  5 * time.Second,
		WatchdogInterval:   2 * time.Second,
		StaleAfter:         45 * time.Second,
		SpeechPollInterval: 100 * time.Millisecond,
		SpeechQuietWindow:  1500 * time.Millisecond,
		SpeechMaxWait:      12 * time.Second,
		SendTimeout:        5 * time.Second,
		EndSessionTimeout:  5 * time.Second,
		ChannelErrorStreak: 2,
		OutboxSize:         32,
		TranscriptSize:     50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FreezeAfter <= 0 {
		c.FreezeAfter = d.FreezeAfter
	}
	if c.EndAfter <= 0 {
		c.EndAfter = d.EndAfter
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	if c.SpeechPollInterval <= 0 {
		c.SpeechPollInterval = d.SpeechPollInterval
	}
	if c.SpeechQuietWindow <= 0 {
		c.SpeechQuietWindow = d.SpeechQuietWindow
	}
	if c.SpeechMaxWait <= 0 {
		c.SpeechMaxWait = d.SpeechMaxWait
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.EndSessionTimeout <= 0 {
		c.EndSessionTimeout = d.EndSessionTimeout
	}
	if c.ChannelErrorStreak <= 0 {
		c.ChannelErrorStreak = d.ChannelErrorStreak
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	if c.TranscriptSize <= 0 {
		c.TranscriptSize = d.TranscriptSize
	}
	return c
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Conversation voice.Conversation
	Microphone   Microphone
	Credentials  CredentialSource
	Market       *market.Book
	Logger       *slog.Logger
	Config       Config
	Now          func() time.Time
	// NewSessionID overrides ULID session ids.
	NewSessionID func() string
}

// Orchestrator runs one negotiation at a time. All state is owned by the
// Run goroutine; exported methods hand work to it and wait for the result.
type Orchestrator struct {
	conv   voice.Conversation
	mic    Microphone
	creds  CredentialSource
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
	newID  func() string

	requests chan request
	events   chan event
	outbox   chan outbound
	notices  chan Notice
	done     chan struct{}
	running  atomic.Bool

	// Owned by the Run goroutine.
	runCtx     context.Context
	book       *market.Book
	clock      *clock.Session
	state      State
	sess       *session
	deal       *Deal
	frozen     bool
	endingSoon bool
	showGuide  bool
	lastReason string
	transcript []voice.Message
}

// session holds per-connection bookkeeping. It is replaced on every Start.
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	freezeTimer *time.Timer
	endTimer    *time.Timer

	fingerprint     string
	lastSendAt      time.Time
	lastTopBid      int
	channelFailures int
	agentPhase      string
}

func (s *session) stopTimers() {
	if s.freezeTimer != nil {
		s.freezeTimer.Stop()
		s.freezeTimer = nil
	}
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
}

type request struct {
	fn   func()
	done chan struct{}
}

// New validates deps and returns an idle Orchestrator. Other methods block
// until Run is serving.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Conversation == nil {
		return nil, fmt.Errorf("conversation is required")
	}
	if deps.Microphone == nil {
		return nil, fmt.Errorf("microphone is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if deps.Market == nil {
		return nil, fmt.Errorf("market is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewSessionID == nil {
		deps.NewSessionID = func() string { return ulid.Make().String() }
	}
	cfg := deps.Config.withDefaults()

	return &Orchestrator{
		conv:      deps.Conversation,
		mic:       deps.Microphone,
		creds:     deps.Credentials,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       deps.Now,
		newID:     deps.NewSessionID,
		requests:  make(chan request),
		events:    make(chan event, 64),
		outbox:    make(chan outbound, cfg.OutboxSize),
		notices:   make(chan Notice, 16),
		done:      make(chan struct{}),
		runCtx:    context.Background(),
		book:      deps.Market,
		clock:     clock.New(cfg.FreezeAfter, cfg.EndAfter, deps.Now),
		showGuide: true,
	}, nil
}

// Notices delivers user-visible events such as timeouts and lost
// connections. Notices are dropped if the reader falls behind.
func (o *Orchestrator) Notices() <-chan Notice {
	return o.notices
}

// Run owns the orchestrator state until ctx is done. Any live session is
// ended on the way out.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return fmt.Errorf("negotiation: Run called twice")
	}
	defer close(o.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.runCtx = ctx

	go o.runOutbox(ctx)

	syncTicker := time.NewTicker(o.cfg.SyncInterval)
	defer syncTicker.Stop()
	watchdog := time.NewTicker(o.cfg.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			wasLive := o.state != StateIdle
			o.teardown("shutdown", nil)
			if wasLive {
				o.endConversation()
			}
			return nil
		case req := <-o.requests:
			req.fn()
			close(req.done)
		case ev := <-o.events:
			o.handleEvent(ev)
		case <-syncTicker.C:
			o.syncTick()
		case <-watchdog.C:
			o.watchdogTick()
		}
	}
}

// do runs fn on the Run goroutine and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case o.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
	select {
	case <-req.done:
		return nil
	case <-o.done:
		return ErrStopped
	}
}

func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) notify(msg string, err error) {
	n := Notice{Message: msg, Err: err, At: o.now()}
	select {
	case o.notices <- n:
	default:
		o.logger.Warn("notice dropped", "message", msg)
	}
}

func (o *Orchestrator) current(sessionID string) bool {
	return o.sess != nil && o.sess.id == sessionID
}

// Start begins a new negotiation: session state is reset, then microphone
// access, a conversation token and the voice connection are acquired in
// that order. On failure the orchestrator returns to idle.
func (o *Orchestrator) Start(ctx context.Context) error {
	var (
		sessionID string
		sessCtx   context.Context
		vars      map[string]any
		startErr  error
	)
	if err := o.do(ctx, func() {
		sessionID, sessCtx, vars, startErr = o.beginStart()
	}); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	// Stop during startup cancels the session context.
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	fail := func(err error) error {
		o.post(startFailedEvent{sessionID: sessionID, err: err})
		return err
	}

	if err := o.mic.Acquire(startCtx); err != nil {
		if !core.IsType(err, core.ErrPermission) {
			err = core.NewPermissionError("microphone access is required to negotiate", err)
		}
		return fail(err)
	}
	token, err := o.creds.Fetch(startCtx)
	if err != nil {
		if !core.IsType(err, core.ErrCredential) {
			err = core.NewCredentialError("failed to get a conversation token", err)
		}
		return fail(err)
	}
	if token == "" {
		return fail(core.NewCredentialError("no conversation token received", nil))
	}

	err = o.conv.StartSession(startCtx, voice.StartOptions{
		Credential:       token,
		Mode:             voice.ConnectionWebSocket,
		DynamicVariables: vars,
		Tools:            o.toolFuncs(sessionID),
		Callbacks:        o.callbacks(sessionID),
	})
	if err != nil {
		if !core.IsType(err, core.ErrConnection) {
			err = core.NewConnectionError("failed to start the voice agent; try a different network", err)
		}
		return fail(err)
	}
	return nil
}

func (o *Orchestrator) beginStart() (string, context.Context, map[string]any, error) {
	if o.state != StateIdle {
		return "", nil, nil, core.NewInvalidRequestError("a negotiation is already in progress")
	}

	o.deal = nil
	o.endingSoon = false
	o.frozen = false
	o.lastReason = ""
	o.transcript = nil
	o.book.ResetUserOffer()
	o.book.Reseed()

	ctx, cancel := context.WithCancel(o.runCtx)
	o.sess = &session{id: o.newID(), ctx: ctx, cancel: cancel}
	o.state = StateStarting
	o.logger.Info("negotiation starting", "session_id", o.sess.id)

	p := o.book.Product()
	vars := map[string]any{
		"product_name":                    p.Name,
		"product_description":             p.Description,
		"base_price":                      p.Floor,
		"sticker_price":                   p.Target,
		"policy_confidential_competition": true,
		"session_id":                      o.sess.id,
	}
	return o.sess.id, ctx, vars, nil
}

func (o *Orchestrator) callbacks(sessionID string) voice.Callbacks {
	return voice.Callbacks{
		OnConnect: func() {
			o.post(connectedEvent{sessionID: sessionID})
		},
		OnDisconnect: func(reason string) {
			o.post(disconnectedEvent{sessionID: sessionID, reason: reason})
		},
		OnMessage: func(msg voice.Message) {
			o.post(messageEvent{sessionID: sessionID, msg: msg})
		},
		OnError: func(err error) {
			o.post(adapterErrorEvent{sessionID: sessionID, err: err})
		},
	}
}

// Stop ends the live session, if any.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.do(ctx, func() {
		o.teardown("stopped by operator", nil)
	})
}

// AcceptBuyer sells to buyer id. It reports false without effect when no
// session is live or a close is already under way.
func (o *Orchestrator) AcceptBuyer(ctx context.Context, id int) (bool, error) {
	var (
		accepted bool
		opErr    error
	)
	err := o.do(ctx, func() {
		if !o.canClose() {
			return
		}
		buyer, ok := o.book.Buyer(id)
		if !ok {
			opErr = core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown buyer %d", id), "buyer")
			return
		}
		o.closeWithBuyer(buyer)
		accepted = true
	})
	if err != nil {
		return false, err
	}
	return accepted, opErr
}

// CloseAndAcceptBest ends the call on the best available terms: the caller
// if their offer clears both the floor and the best bid, otherwise the best
// buyer, otherwise no sale. It reports false when no session is live or a
// close is already under way.
func (o *Orchestrator) CloseAndAcceptBest(ctx context.Context) (bool, error) {
	var closed bool
	err := o.do(ctx, func() {
		if !o.canClose() {
			return
		}
		p := o.book.Product()
		u := o.book.UserOffer()
		best, hasBest := o.book.BestBid()
		switch {
		case u > 0 && u >= p.Floor && (!hasBest || u >= best.Offer):
			o.beginClosing(&Deal{BuyerID: CallerID, Name: callerName, Price: u}, "close: caller offer accepted",
				outbound{kind: sendContextual, text: purchaseCompleteUpdateText(p, u)},
				outbound{kind: sendUserMessage, text: purchaseCompleteUserText(p, u)},
			)
		case hasBest:
			o.closeWithBuyer(best)
		default:
			o.beginClosing(nil, "close: no offers",
				outbound{kind: sendContextual, text: wrapUpText(p)},
			)
		}
		closed = true
	})
	return closed, err
}

// SetProductConfig changes the product. Buyer offers are reseeded.
func (o *Orchestrator) SetProductConfig(ctx context.Context, floor, target int, name, description string) error {
	var opErr error
	err := o.do(ctx, func() {
		if o.frozen || o.deal != nil {
			opErr = core.NewInvalidRequestError("the market is locked")
			return
		}
		if opErr = o.book.SetProductConfig(floor, target, name, description); opErr != nil {
			return
		}
		o.evaluateAcceptance("product config")
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetBuyerOffer moves one simulated buyer's bid. Offers can only move while
// negotiating and before the freeze.
func (o *Orchestrator) SetBuyerOffer(ctx context.Context, id, offer int) error {
	var opErr error
	err := o.do(ctx, func() {
		if o.state != StateActive || o.frozen || o.deal != nil {
			opErr = core.NewInvalidRequestError("buyer offers are locked")
			return
		}
		if !o.book.SetBuyerOffer(id, offer) {
			return
		}
		o.evaluateAcceptance("buyer offer")
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetUserOffer records the caller's offer as entered by the operator.
func (o *Orchestrator) SetUserOffer(ctx context.Context, offer float64) error {
	return o.do(ctx, func() {
		o.updateUserOffer(offer, "operator")
	})
}

// DismissGuide hides the first-run guide for the process lifetime.
func (o *Orchestrator) DismissGuide(ctx context.Context) error {
	return o.do(ctx, func() {
		o.showGuide = false
	})
}

// SendOperatorMessage types a line to the agent as if the caller had said
// it. Used when the console runs without audio.
func (o *Orchestrator) SendOperatorMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.NewInvalidRequestErrorWithParam("message is empty", "text")
	}
	var opErr error
	err := o.do(ctx, func() {
		if o.state != StateActive && o.state != StateFrozen {
			opErr = core.NewInvalidRequestError("no negotiation in progress")
			return
		}
		o.enqueue(sendUserMessage, text)
		o.appendTranscript(voice.Message{Source: voice.SourceUser, Text: text})
	})
	if err != nil {
		return err
	}
	return opErr
}

// Snapshot returns a copy of the current state for presentation.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := o.do(ctx, func() {
		snap = o.snapshot()
	})
	return snap, err
}

func (o *Orchestrator) snapshot() Snapshot {
	p := o.book.Product()
	s := Snapshot{
		State:         o.state,
		Phase:         PhaseWaiting,
		Product:       p,
		Buyers:        o.book.Buyers(),
		UserOffer:     o.book.UserOffer(),
		SlidersFrozen: o.frozen,
		EndingSoon:    o.endingSoon,
		ShowGuide:     o.showGuide,
		AdapterStatus: o.conv.Status(),
		AgentSpeaking: o.conv.IsSpeaking(),
		LastReason:    o.lastReason,
		Transcript:    append([]voice.Message(nil), o.transcript...),
	}
	if o.sess != nil {
		s.SessionID = o.sess.id
		s.AgentPhase = o.sess.agentPhase
	}
	if best, ok := o.book.BestBid(); ok {
		s.BestBid = &best
	}
	if s.UserOffer > 0 {
		s.UserOfferStatus = "COMPETING"
		if s.BestBid == nil || s.UserOffer >= s.BestBid.Offer {
			s.UserOfferStatus = "HIGHEST"
		}
	}
	if o.deal != nil {
		d := *o.deal
		s.Deal = &d
	}
	if o.state.live() {
		s.Phase = PhaseActive
		if o.frozen || o.state == StateClosing {
			s.Phase = PhaseClosing
		}
	}
	if at, ok := o.clock.ConnectedAt(); ok {
		s.ConnectedAt = at
		s.Elapsed = o.clock.Elapsed()
		freezeAt, _ := o.clock.FreezeAt()
		s.FreezeRemaining, s.FreezeKnown = o.clock.RemainingUntil(freezeAt)
		endAt, _ := o.clock.EndAt()
		s.EndRemaining, s.EndKnown = o.clock.RemainingUntil(endAt)
	}
	return s
}
