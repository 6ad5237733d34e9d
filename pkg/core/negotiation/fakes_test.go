package negotiation

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/core/market"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

type fakeConversation struct {
	mu           sync.Mutex
	status       voice.Status
	speaking     bool
	lastActivity time.Time
	opts         voice.StartOptions
	startErr     error
	sendErr      error
	starts       int
	ends         int
	contextual   []string
	userMessages []string
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{status: voice.StatusIdle}
}

func (f *fakeConversation) StartSession(ctx context.Context, opts voice.StartOptions) error {
	f.mu.Lock()
	f.starts++
	f.opts = opts
	if f.startErr != nil {
		err := f.startErr
		f.mu.Unlock()
		return err
	}
	f.status = voice.StatusConnected
	onConnect := opts.Callbacks.OnConnect
	f.mu.Unlock()
	if onConnect != nil {
		onConnect()
	}
	return nil
}

func (f *fakeConversation) EndSession(ctx context.Context) error {
	f.mu.Lock()
	f.ends++
	wasConnected := f.status == voice.StatusConnected
	f.status = voice.StatusDisconnected
	onDisconnect := f.opts.Callbacks.OnDisconnect
	f.mu.Unlock()
	if wasConnected && onDisconnect != nil {
		onDisconnect("client ended")
	}
	return nil
}

func (f *fakeConversation) send(text string, dst *[]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != voice.StatusConnected {
		return core.NewChannelError("not sent", voice.ErrChannelClosed)
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	*dst = append(*dst, text)
	return nil
}

func (f *fakeConversation) SendContextualUpdate(ctx context.Context, text string) error {
	return f.send(text, &f.contextual)
}

func (f *fakeConversation) SendUserMessage(ctx context.Context, text string) error {
	return f.send(text, &f.userMessages)
}

func (f *fakeConversation) Status() voice.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeConversation) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

func (f *fakeConversation) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActivity
}

func (f *fakeConversation) setSpeaking(v bool) {
	f.mu.Lock()
	f.speaking = v
	f.mu.Unlock()
}

func (f *fakeConversation) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// drop simulates the remote side hanging up.
func (f *fakeConversation) drop(reason string) {
	f.mu.Lock()
	f.status = voice.StatusDisconnected
	onDisconnect := f.opts.Callbacks.OnDisconnect
	f.mu.Unlock()
	if onDisconnect != nil {
		onDisconnect(reason)
	}
}

// silentDrop changes status without any callback.
func (f *fakeConversation) silentDrop() {
	f.mu.Lock()
	f.status = voice.StatusDisconnected
	f.mu.Unlock()
}

func (f *fakeConversation) tool(name string) voice.ToolFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts.Tools[name]
}

func (f *fakeConversation) counts() (starts, ends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.ends
}

func (f *fakeConversation) contextualMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.contextual {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func (f *fakeConversation) userMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.userMessages {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

type fakeMic struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (m *fakeMic) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

type fakeCredentials struct {
	token string
	err   error
	calls int
	mu    sync.Mutex
}

func (c *fakeCredentials) Fetch(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.token, c.err
}

type harness struct {
	orch  *Orchestrator
	conv  *fakeConversation
	mic   *fakeMic
	creds *fakeCredentials
	book  *market.Book
}

func testConfig() Config {
	return Config{
		FreezeAfter:        time.Hour,
		EndAfter:           2 * time.Hour,
		SyncInterval:       10 * time.Millisecond,
		HeartbeatInterval:  time.Hour,
		WatchdogInterval:   time.Hour,
		SpeechPollInterval: 5 * time.Millisecond,
		SpeechQuietWindow:  20 * time.Millisecond,
		SpeechMaxWait:      time.Second,
		SendTimeout:        time.Second,
		EndSessionTimeout:  time.Second,
	}
}

// newHarness runs an orchestrator over floor=100, target=200 and the given
// buyer names.
func newHarness(t *testing.T, cfg Config, buyers ...string) *harness {
	t.Helper()
	book, err := market.New(market.Product{Name: "Widget", Floor: 100, Target: 200}, buyers, nil)
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	h := &harness{
		conv:  newFakeConversation(),
		mic:   &fakeMic{},
		creds: &fakeCredentials{token: "tok"},
		book:  book,
	}
	h.orch, err = New(Dependencies{
		Conversation: h.conv,
		Microphone:   h.mic,
		Credentials:  h.creds,
		Market:       book,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		_ = h.orch.Run(ctx)
		close(runDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-runDone
	})
	return h
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.orch.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func (h *harness) start(t *testing.T) Snapshot {
	t.Helper()
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitFor(t, "active", func(s Snapshot) bool { return s.State == StateActive })
	return h.snapshot(t)
}

func (h *harness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		s := h.snapshot(t)
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; state=%s deal=%v", what, s.State, s.Deal)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
