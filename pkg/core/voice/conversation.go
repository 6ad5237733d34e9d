// Package voice defines the contract between the negotiation orchestrator
// and a hosted real-time voice agent.
package voice

import (
	"context"
	"errors"
	"time"
)

// Status is the connection state of a hosted voice conversation.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ConnectionMode selects the transport used to reach the hosted agent.
type ConnectionMode string

const ConnectionWebSocket ConnectionMode = "websocket"

// ErrChannelClosed is wrapped by send failures on a channel that is not open.
var ErrChannelClosed = errors.New("voice channel is not open")

// MessageSource identifies who produced a transcript message.
type MessageSource string

const (
	SourceAgent MessageSource = "agent"
	SourceUser  MessageSource = "user"
)

// Message is a transcript line observed on the conversation.
type Message struct {
	Source MessageSource
	Text   string
}

// ToolFunc handles one agent-invoked tool call. The returned string is sent
// back to the agent as the tool result.
type ToolFunc func(ctx context.Context, params map[string]any) (string, error)

// Callbacks receive conversation lifecycle notifications. They may be
// invoked from adapter goroutines and must not block.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnMessage    func(Message)
	OnError      func(error)
}

// StartOptions configures one conversation.
type StartOptions struct {
	Credential       string
	Mode             ConnectionMode
	DynamicVariables map[string]any
	Tools            map[string]ToolFunc
	Callbacks        Callbacks
}

// Conversation is a hosted real-time voice conversation. Status, IsSpeaking
// and LastActivity may change at any time without caller action.
type Conversation interface {
	StartSession(ctx context.Context, opts StartOptions) error
	// EndSession is idempotent and safe to call when already disconnected.
	EndSession(ctx context.Context) error
	// SendContextualUpdate pushes background information that is not a
	// conversational turn.
	SendContextualUpdate(ctx context.Context, text string) error
	// SendUserMessage injects text as if spoken by the caller.
	SendUserMessage(ctx context.Context, text string) error
	Status() Status
	IsSpeaking() bool
	// LastActivity is the time of the last inbound frame; zero if none.
	LastActivity() time.Time
}
