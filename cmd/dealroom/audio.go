package main

import (
	"context"

	"github.com/vango-go/vai-dealroom/pkg/core/audio"
)

// streamingMic gates a session on microphone access and, once granted,
// forwards captured audio to the voice connection. Chunks captured while
// no session is connected are dropped by the sink.
type streamingMic struct {
	mic  *audio.Microphone
	sink func([]byte) error
}

func (m *streamingMic) Acquire(ctx context.Context) error {
	if err := m.mic.Acquire(ctx); err != nil {
		return err
	}
	return m.mic.Stream(func(pcm []byte) {
		_ = m.sink(pcm)
	})
}

func (m *streamingMic) Close() {
	m.mic.Close()
}

// noMic is used when audio is disabled; access is always granted.
type noMic struct{}

func (noMic) Acquire(ctx context.Context) error { return ctx.Err() }
