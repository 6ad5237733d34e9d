package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

type fakeAgent struct {
	t        *testing.T
	srv      *httptest.Server
	received chan map[string]any
	query    chan string

	mu   sync.Mutex
	conn *websocket.Conn
}

// newFakeAgent starts a ConvAI stand-in. If greet is true it answers the
// initiation message with conversation metadata.
func newFakeAgent(t *testing.T, greet bool) *fakeAgent {
	t.Helper()
	fa := &fakeAgent{
		t:        t,
		received: make(chan map[string]any, 32),
		query:    make(chan string, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fa.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fa.query <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fa.mu.Lock()
		fa.conn = conn
		fa.mu.Unlock()
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if greet && msg["type"] == "conversation_initiation_client_data" {
				fa.send(map[string]any{
					"type": "conversation_initiation_metadata",
					"conversation_initiation_metadata_event": map[string]any{
						"conversation_id": "conv_1",
					},
				})
			}
			fa.received <- msg
		}
	}))
	t.Cleanup(fa.srv.Close)
	return fa
}

func (fa *fakeAgent) url() string {
	return "ws" + strings.TrimPrefix(fa.srv.URL, "http") + conversationPath
}

func (fa *fakeAgent) send(v any) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.conn == nil {
		fa.t.Fatalf("fake agent has no connection")
	}
	if err := fa.conn.WriteJSON(v); err != nil {
		fa.t.Logf("fake agent write: %v", err)
	}
}

func (fa *fakeAgent) drop() {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.conn != nil {
		_ = fa.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
		_ = fa.conn.Close()
	}
}

func (fa *fakeAgent) next(t *testing.T, typ string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-fa.received:
			if typ == "" || msg["type"] == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
			return nil
		}
	}
}

func TestClientStartSendsInitiationAndConnects(t *testing.T) {
	fa := newFakeAgent(t, true)
	client := New(Config{AgentID: "agent_9", BaseWSURL: fa.url()})

	connected := make(chan struct{}, 1)
	err := client.StartSession(context.Background(), voice.StartOptions{
		Credential:       "tok_abc",
		Mode:             voice.ConnectionWebSocket,
		DynamicVariables: map[string]any{"product_name": "Blades"},
		Callbacks:        voice.Callbacks{OnConnect: func() { connected <- struct{}{} }},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer client.EndSession(context.Background())

	select {
	case <-connected:
	default:
		t.Fatalf("OnConnect not called before StartSession returned")
	}
	if client.Status() != voice.StatusConnected {
		t.Fatalf("status=%q", client.Status())
	}
	if got := client.ConversationID(); got != "conv_1" {
		t.Fatalf("conversation id=%q", got)
	}

	q := <-fa.query
	if !strings.Contains(q, "agent_id=agent_9") || !strings.Contains(q, "conversation_signature=tok_abc") {
		t.Fatalf("query=%q", q)
	}
	initMsg := fa.next(t, "conversation_initiation_client_data")
	vars, _ := initMsg["dynamic_variables"].(map[string]any)
	if vars["product_name"] != "Blades" {
		t.Fatalf("dynamic_variables=%v", initMsg["dynamic_variables"])
	}

	if err := client.SendContextualUpdate(context.Background(), "Current highest bid is 7000"); err != nil {
		t.Fatalf("SendContextualUpdate: %v", err)
	}
	msg := fa.next(t, "contextual_update")
	if msg["text"] != "Current highest bid is 7000" {
		t.Fatalf("text=%v", msg["text"])
	}
	if err := client.SendUserMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if msg := fa.next(t, "user_message"); msg["text"] != "hello" {
		t.Fatalf("text=%v", msg["text"])
	}
}

func TestClientAnswersPingAndToolCalls(t *testing.T) {
	fa := newFakeAgent(t, true)
	client := New(Config{BaseWSURL: fa.url()})
	err := client.StartSession(context.Background(), voice.StartOptions{
		Credential: "tok",
		Tools: map[string]voice.ToolFunc{
			"get_current_bids": func(ctx context.Context, params map[string]any) (string, error) {
				return "Jackie: 7000", nil
			},
			"broken": func(ctx context.Context, params map[string]any) (string, error) {
				return "", errors.New("nope")
			},
		},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer client.EndSession(context.Background())

	fa.send(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 42}})
	pong := fa.next(t, "pong")
	if pong["event_id"] != float64(42) {
		t.Fatalf("pong=%v", pong)
	}

	fa.send(map[string]any{"type": "client_tool_call", "client_tool_call": map[string]any{
		"tool_name": "get_current_bids", "tool_call_id": "call_1", "parameters": map[string]any{},
	}})
	res := fa.next(t, "client_tool_result")
	if res["tool_call_id"] != "call_1" || res["result"] != "Jackie: 7000" || res["is_error"] != false {
		t.Fatalf("result=%v", res)
	}

	fa.send(map[string]any{"type": "client_tool_call", "client_tool_call": map[string]any{
		"tool_name": "broken", "tool_call_id": "call_2",
	}})
	res = fa.next(t, "client_tool_result")
	if res["is_error"] != true || !strings.Contains(res["result"].(string), "nope") {
		t.Fatalf("result=%v", res)
	}

	fa.send(map[string]any{"type": "client_tool_call", "client_tool_call": map[string]any{
		"tool_name": "missing", "tool_call_id": "call_3",
	}})
	res = fa.next(t, "client_tool_result")
	if res["is_error"] != true {
		t.Fatalf("result=%v", res)
	}
}

func TestClientReportsRemoteDisconnect(t *testing.T) {
	fa := newFakeAgent(t, true)
	client := New(Config{BaseWSURL: fa.url()})

	disconnected := make(chan string, 1)
	errs := make(chan error, 1)
	err := client.StartSession(context.Background(), voice.StartOptions{
		Credential: "tok",
		Callbacks: voice.Callbacks{
			OnDisconnect: func(reason string) { disconnected <- reason },
			OnError:      func(err error) { errs <- err },
		},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	fa.drop()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnDisconnect not called")
	}
	select {
	case err := <-errs:
		if !core.IsType(err, core.ErrChannel) {
			t.Fatalf("error type: %v", err)
		}
	default:
		t.Fatalf("OnError not called for remote close")
	}
	if client.Status() != voice.StatusDisconnected {
		t.Fatalf("status=%q", client.Status())
	}

	err = client.SendContextualUpdate(context.Background(), "x")
	if !errors.Is(err, voice.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if !core.IsType(err, core.ErrChannel) {
		t.Fatalf("expected channel error, got %v", err)
	}
}

func TestClientEndSessionIsIdempotent(t *testing.T) {
	fa := newFakeAgent(t, true)
	client := New(Config{BaseWSURL: fa.url()})

	var disconnects int
	var mu sync.Mutex
	errs := make(chan error, 1)
	err := client.StartSession(context.Background(), voice.StartOptions{
		Credential: "tok",
		Callbacks: voice.Callbacks{
			OnDisconnect: func(string) { mu.Lock(); disconnects++; mu.Unlock() },
			OnError:      func(err error) { errs <- err },
		},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := client.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := client.EndSession(context.Background()); err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	if client.Status() != voice.StatusDisconnected {
		t.Fatalf("status=%q", client.Status())
	}
	mu.Lock()
	n := disconnects
	mu.Unlock()
	if n != 1 {
		t.Fatalf("disconnects=%d", n)
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected OnError for local end: %v", err)
	default:
	}
}

func TestClientStartFailsWithoutMetadata(t *testing.T) {
	fa := newFakeAgent(t, false)
	client := New(Config{BaseWSURL: fa.url(), HandshakeTimeout: 200 * time.Millisecond})

	called := false
	err := client.StartSession(context.Background(), voice.StartOptions{
		Credential: "tok",
		Callbacks:  voice.Callbacks{OnConnect: func() { called = true }, OnDisconnect: func(string) { called = true }},
	})
	if !core.IsType(err, core.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if called {
		t.Fatalf("callbacks fired for failed start")
	}
	if client.Status() == voice.StatusConnected {
		t.Fatalf("status=%q", client.Status())
	}
}

func TestClientStartRejectsMissingCredential(t *testing.T) {
	client := New(Config{})
	err := client.StartSession(context.Background(), voice.StartOptions{Credential: "  "})
	if !core.IsType(err, core.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if client.Status() != voice.StatusIdle {
		t.Fatalf("status=%q", client.Status())
	}
}

func TestClientSpeakingFollowsAudioPlayback(t *testing.T) {
	fa := newFakeAgent(t, true)

	var mu sync.Mutex
	now := time.Unix(1000, 0)
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }

	sunk := make(chan int, 1)
	client := New(Config{
		BaseWSURL:    fa.url(),
		Now:          clock,
		SpeakingHold: 100 * time.Millisecond,
		AudioSink:    func(b []byte) { sunk <- len(b) },
	})
	if err := client.StartSession(context.Background(), voice.StartOptions{Credential: "tok"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer client.EndSession(context.Background())

	if client.IsSpeaking() {
		t.Fatalf("speaking before audio")
	}

	// 16000 bytes of pcm_16000 is 500ms of speech.
	chunk := base64.StdEncoding.EncodeToString(make([]byte, 16000))
	fa.send(map[string]any{"type": "audio", "audio_event": map[string]any{"audio_base_64": chunk, "event_id": 1}})
	select {
	case n := <-sunk:
		if n != 16000 {
			t.Fatalf("sink bytes=%d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("audio not delivered")
	}

	if !client.IsSpeaking() {
		t.Fatalf("expected speaking after audio")
	}
	advance(550 * time.Millisecond)
	if !client.IsSpeaking() {
		t.Fatalf("expected speaking during hold window")
	}
	advance(100 * time.Millisecond)
	if client.IsSpeaking() {
		t.Fatalf("expected quiet after hold window")
	}
	if client.LastActivity().IsZero() {
		t.Fatalf("last activity not recorded")
	}
}

func TestBuildConversationURL(t *testing.T) {
	got, err := buildConversationURL("https://api.elevenlabs.io", "a1", "t1")
	if err != nil {
		t.Fatalf("buildConversationURL: %v", err)
	}
	if got != "wss://api.elevenlabs.io/v1/convai/conversation?agent_id=a1&conversation_signature=t1" {
		t.Fatalf("url=%q", got)
	}
}
