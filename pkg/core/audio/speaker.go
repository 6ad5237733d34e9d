package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Speaker plays agent audio through the default output device.
type Speaker struct {
	ctx   *oto.Context
	queue *pcmQueue

	mu     sync.Mutex
	player *oto.Player
}

// OpenSpeaker initialises the output device. oto allows one context per
// process, so callers keep a single Speaker.
func OpenSpeaker() (*Speaker, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   0,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &Speaker{ctx: otoCtx, queue: newPCMQueue()}, nil
}

// Write queues audio; playback starts on the first write.
func (s *Speaker) Write(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.queue.Write(pcm)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		s.player = s.ctx.NewPlayer(s.queue)
		s.player.Play()
	}
}

// Flush drops queued audio, used when the agent is interrupted or the
// session ends.
func (s *Speaker) Flush() {
	s.queue.Flush()

	s.mu.Lock()
	player := s.player
	s.player = nil
	s.mu.Unlock()
	if player != nil {
		player.Pause()
		_ = player.Close()
	}
}

func (s *Speaker) Close() {
	s.queue.Close()
	s.mu.Lock()
	player := s.player
	s.player = nil
	s.mu.Unlock()
	if player != nil {
		_ = player.Close()
	}
}
