// Package elevenlabs implements voice.Conversation over the ElevenLabs
// Conversational AI websocket.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/core/voice"
)

const (
	defaultWSBase           = "wss://api.elevenlabs.io"
	conversationPath        = "/v1/convai/conversation"
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultToolTimeout      = 10 * time.Second
	defaultSpeakingHold     = 300 * time.Millisecond
	// pcm_16000 signed 16-bit mono.
	defaultAudioBytesPerSecond = 32000
)

type Config struct {
	AgentID   string
	BaseWSURL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ToolTimeout      time.Duration
	// SpeakingHold keeps IsSpeaking true briefly after queued agent audio
	// has drained, bridging gaps between chunks.
	SpeakingHold        time.Duration
	AudioBytesPerSecond int

	// AudioSink receives decoded agent audio. Optional.
	AudioSink func([]byte)

	Logger *slog.Logger
	Dialer *websocket.Dialer
	Now    func() time.Time
}

// Client is a reusable conversation handle: StartSession may be called
// again after the previous session ended.
type Client struct {
	cfg Config

	mu     sync.Mutex
	active *liveConn
}

var _ voice.Conversation = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.SpeakingHold <= 0 {
		cfg.SpeakingHold = defaultSpeakingHold
	}
	if cfg.AudioBytesPerSecond <= 0 {
		cfg.AudioBytesPerSecond = defaultAudioBytesPerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{cfg: cfg}
}

func (c *Client) StartSession(ctx context.Context, opts voice.StartOptions) error {
	credential := strings.TrimSpace(opts.Credential)
	if credential == "" {
		return core.NewConnectionError("conversation credential is required", nil)
	}
	if opts.Mode != "" && opts.Mode != voice.ConnectionWebSocket {
		return core.NewConnectionError(fmt.Sprintf("unsupported connection mode %q", opts.Mode), nil)
	}

	c.mu.Lock()
	if c.active != nil {
		switch c.active.Status() {
		case voice.StatusConnecting, voice.StatusConnected:
			c.mu.Unlock()
			return core.NewConnectionError("a conversation is already active", nil)
		}
	}
	c.mu.Unlock()

	wsURL, err := buildConversationURL(c.cfg.BaseWSURL, c.cfg.AgentID, credential)
	if err != nil {
		return core.NewConnectionError("invalid conversation url", err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancelDial()
	conn, _, err := c.cfg.Dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return core.NewConnectionError("failed to connect to the voice agent; try a different network", err)
	}

	lc := newLiveConn(conn, &c.cfg, opts)
	c.mu.Lock()
	c.active = lc
	c.mu.Unlock()

	if err := lc.writeJSON(initiationClientData{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: opts.DynamicVariables,
	}); err != nil {
		lc.abort()
		return core.NewConnectionError("failed to initiate conversation", err)
	}

	go lc.readLoop()

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-lc.ready:
		return nil
	case <-lc.done:
		return core.NewConnectionError("voice agent closed the connection during setup", errors.New(lc.closeReason()))
	case <-timer.C:
		lc.abort()
		return core.NewConnectionError("timed out waiting for the voice agent", context.DeadlineExceeded)
	case <-ctx.Done():
		lc.abort()
		return core.NewConnectionError("conversation start cancelled", ctx.Err())
	}
}

func (c *Client) EndSession(ctx context.Context) error {
	lc := c.current()
	if lc == nil {
		return nil
	}
	lc.end(ctx)
	return nil
}

func (c *Client) SendContextualUpdate(ctx context.Context, text string) error {
	return c.sendText(ctx, "contextual_update", text)
}

func (c *Client) SendUserMessage(ctx context.Context, text string) error {
	return c.sendText(ctx, "user_message", text)
}

// SendAudio streams caller microphone audio (pcm_16000 s16le mono).
func (c *Client) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	lc := c.current()
	if lc == nil || lc.Status() != voice.StatusConnected {
		return core.NewChannelError("audio not sent", voice.ErrChannelClosed)
	}
	return lc.writeJSON(audioChunkMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
}

func (c *Client) Status() voice.Status {
	lc := c.current()
	if lc == nil {
		return voice.StatusIdle
	}
	return lc.Status()
}

func (c *Client) IsSpeaking() bool {
	lc := c.current()
	if lc == nil {
		return false
	}
	return lc.isSpeaking()
}

func (c *Client) LastActivity() time.Time {
	lc := c.current()
	if lc == nil {
		return time.Time{}
	}
	ns := lc.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ConversationID returns the id assigned by ElevenLabs to the active conversation.
func (c *Client) ConversationID() string {
	lc := c.current()
	if lc == nil {
		return ""
	}
	lc.metaMu.Lock()
	defer lc.metaMu.Unlock()
	return lc.conversationID
}

func (c *Client) current() *liveConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Client) sendText(ctx context.Context, typ, text string) error {
	lc := c.current()
	if lc == nil || lc.Status() != voice.StatusConnected {
		return core.NewChannelError(typ+" not sent", voice.ErrChannelClosed)
	}
	if ctx != nil && ctx.Err() != nil {
		return core.NewChannelError(typ+" not sent", ctx.Err())
	}
	return lc.writeJSON(textMessage{Type: typ, Text: text})
}

// liveConn is one websocket conversation. Callbacks only fire after the
// conversation reached connected; setup failures are returned from
// StartSession instead.
type liveConn struct {
	conn   *websocket.Conn
	cfg    *Config
	cb     voice.Callbacks
	tools  map[string]voice.ToolFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	metaMu  sync.Mutex

	status         voice.Status
	conversationID string
	playbackEnd    time.Time
	lastClose      string

	lastActivity atomic.Int64
	connected    atomic.Bool
	ending       atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newLiveConn(conn *websocket.Conn, cfg *Config, opts voice.StartOptions) *liveConn {
	ctx, cancel := context.WithCancel(context.Background())
	tools := make(map[string]voice.ToolFunc, len(opts.Tools))
	for name, fn := range opts.Tools {
		name = strings.TrimSpace(name)
		if name == "" || fn == nil {
			continue
		}
		tools[name] = fn
	}
	return &liveConn{
		conn:   conn,
		cfg:    cfg,
		cb:     opts.Callbacks,
		tools:  tools,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		status: voice.StatusConnecting,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (lc *liveConn) Status() voice.Status {
	lc.metaMu.Lock()
	defer lc.metaMu.Unlock()
	return lc.status
}

func (lc *liveConn) setStatus(s voice.Status) {
	lc.metaMu.Lock()
	lc.status = s
	lc.metaMu.Unlock()
}

func (lc *liveConn) readLoop() {
	defer func() {
		lc.cancel()
		lc.setStatus(voice.StatusDisconnected)
		reason := lc.closeReason()
		if lc.connected.Load() {
			if !lc.ending.Load() && lc.cb.OnError != nil {
				lc.cb.OnError(core.NewChannelError("voice channel closed", fmt.Errorf("%w: %s", voice.ErrChannelClosed, reason)))
			}
			if lc.cb.OnDisconnect != nil {
				lc.cb.OnDisconnect(reason)
			}
		}
		close(lc.done)
	}()

	for {
		_, data, err := lc.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case lc.ending.Load():
				lc.setLastClose("client_ended")
			case errors.As(err, &closeErr):
				lc.setLastClose(fmt.Sprintf("code=%d msg=%s", closeErr.Code, strings.TrimSpace(closeErr.Text)))
			default:
				lc.setLastClose(strings.TrimSpace(err.Error()))
			}
			return
		}
		lc.lastActivity.Store(lc.cfg.Now().UnixNano())

		ev, err := decodeServerEvent(data)
		if err != nil {
			lc.logger.Debug("convai: ignoring frame", "error", err)
			continue
		}
		lc.handleEvent(ev)
	}
}

func (lc *liveConn) handleEvent(ev serverEvent) {
	switch ev.Type {
	case eventInitiationMetadata:
		if ev.InitiationMetadata != nil {
			lc.metaMu.Lock()
			lc.conversationID = ev.InitiationMetadata.ConversationID
			lc.metaMu.Unlock()
		}
		lc.setStatus(voice.StatusConnected)
		lc.connected.Store(true)
		if lc.cb.OnConnect != nil {
			lc.cb.OnConnect()
		}
		lc.readyOnce.Do(func() { close(lc.ready) })
	case eventPing:
		if ev.PingEvent == nil {
			return
		}
		if err := lc.writeJSON(pongMessage{Type: "pong", EventID: ev.PingEvent.EventID}); err != nil {
			lc.logger.Debug("convai: pong failed", "error", err)
		}
	case eventAudio:
		if ev.AudioEvent == nil {
			return
		}
		audio, err := decodeBase64Any(ev.AudioEvent.AudioBase64)
		if err != nil || len(audio) == 0 {
			return
		}
		lc.extendPlayback(len(audio))
		if lc.cfg.AudioSink != nil {
			lc.cfg.AudioSink(audio)
		}
	case eventInterruption:
		lc.metaMu.Lock()
		lc.playbackEnd = time.Time{}
		lc.metaMu.Unlock()
	case eventAgentResponse:
		if ev.AgentResponseEvent != nil && lc.cb.OnMessage != nil {
			lc.cb.OnMessage(voice.Message{Source: voice.SourceAgent, Text: ev.AgentResponseEvent.AgentResponse})
		}
	case eventUserTranscript:
		if ev.UserTranscriptionEvent != nil && lc.cb.OnMessage != nil {
			lc.cb.OnMessage(voice.Message{Source: voice.SourceUser, Text: ev.UserTranscriptionEvent.UserTranscript})
		}
	case eventClientToolCall:
		if ev.ClientToolCall == nil {
			return
		}
		call := *ev.ClientToolCall
		go lc.runTool(call.ToolName, call.ToolCallID, call.Parameters)
	}
}

func (lc *liveConn) runTool(name, callID string, params map[string]any) {
	result := toolResultMessage{Type: "client_tool_result", ToolCallID: callID}
	fn, ok := lc.tools[strings.TrimSpace(name)]
	if !ok {
		lc.logger.Warn("convai: unknown tool", "tool", name)
		result.Result = "error: unknown tool " + name
		result.IsError = true
	} else {
		ctx, cancel := context.WithTimeout(lc.ctx, lc.cfg.ToolTimeout)
		out, err := fn(ctx, params)
		cancel()
		if err != nil {
			result.Result = "error: " + err.Error()
			result.IsError = true
		} else {
			result.Result = out
		}
	}
	if err := lc.writeJSON(result); err != nil {
		lc.logger.Debug("convai: tool result not sent", "tool", name, "error", err)
	}
}

func (lc *liveConn) extendPlayback(nbytes int) {
	dur := time.Duration(float64(nbytes) / float64(lc.cfg.AudioBytesPerSecond) * float64(time.Second))
	now := lc.cfg.Now()
	lc.metaMu.Lock()
	defer lc.metaMu.Unlock()
	if lc.playbackEnd.Before(now) {
		lc.playbackEnd = now
	}
	lc.playbackEnd = lc.playbackEnd.Add(dur)
}

func (lc *liveConn) isSpeaking() bool {
	if lc.Status() != voice.StatusConnected {
		return false
	}
	lc.metaMu.Lock()
	end := lc.playbackEnd
	lc.metaMu.Unlock()
	if end.IsZero() {
		return false
	}
	return lc.cfg.Now().Before(end.Add(lc.cfg.SpeakingHold))
}

func (lc *liveConn) writeJSON(payload any) error {
	select {
	case <-lc.done:
		return core.NewChannelError("voice channel closed", voice.ErrChannelClosed)
	default:
	}
	if lc.ending.Load() {
		return core.NewChannelError("voice channel closing", voice.ErrChannelClosed)
	}

	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()
	_ = lc.conn.SetWriteDeadline(time.Now().Add(lc.cfg.WriteTimeout))
	if err := lc.conn.WriteJSON(payload); err != nil {
		if reason := lc.closeReason(); reason != "" {
			return core.NewChannelError("voice channel write failed", fmt.Errorf("%w (%s): %w", voice.ErrChannelClosed, reason, err))
		}
		return core.NewChannelError("voice channel write failed", err)
	}
	return nil
}

// end closes the conversation from our side and waits briefly for the
// read loop to report the disconnect.
func (lc *liveConn) end(ctx context.Context) {
	if !lc.ending.CompareAndSwap(false, true) {
		lc.waitDone(ctx)
		return
	}
	lc.writeMu.Lock()
	_ = lc.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client ended"),
		time.Now().Add(time.Second),
	)
	lc.writeMu.Unlock()
	lc.closeConn()
	lc.waitDone(ctx)
}

// abort tears down a conversation that never finished setup.
func (lc *liveConn) abort() {
	lc.ending.Store(true)
	lc.closeConn()
	lc.setStatus(voice.StatusDisconnected)
}

func (lc *liveConn) closeConn() {
	lc.closeOnce.Do(func() {
		_ = lc.conn.Close()
	})
}

func (lc *liveConn) waitDone(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case <-lc.done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (lc *liveConn) setLastClose(msg string) {
	msg = sanitizeReason(strings.TrimSpace(msg))
	if msg == "" {
		return
	}
	lc.metaMu.Lock()
	lc.lastClose = msg
	lc.metaMu.Unlock()
}

func (lc *liveConn) closeReason() string {
	lc.metaMu.Lock()
	defer lc.metaMu.Unlock()
	return lc.lastClose
}

func buildConversationURL(base, agentID, credential string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "", "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = conversationPath
	}
	q := u.Query()
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		q.Set("agent_id", agentID)
	}
	q.Set("conversation_signature", credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
