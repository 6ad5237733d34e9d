package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/vango-go/vai-dealroom/pkg/core"
)

const micPeriod = 20 // ms

// Microphone captures caller audio. The device is opened lazily by
// Acquire, which doubles as the permission gate: an inaccessible device is
// reported as a permission error.
type Microphone struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	sink    func([]byte)
	chunks  chan []byte
	stopped chan struct{}
}

func NewMicrophone() *Microphone {
	return &Microphone{}
}

// Acquire opens the capture device if it is not open yet.
func (m *Microphone) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return core.NewPermissionError("microphone request cancelled", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return core.NewPermissionError("microphone access is required to negotiate", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.SampleRate = SampleRate
	cfg.PeriodSizeInMilliseconds = micPeriod

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return core.NewPermissionError("microphone access is required to negotiate", err)
	}
	m.ctx = mctx
	m.device = device
	return nil
}

// Stream starts capture and forwards chunks to sink from a dedicated
// goroutine. Chunks are dropped if sink falls behind.
func (m *Microphone) Stream(sink func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return core.NewPermissionError("microphone not acquired", errors.New("device not open"))
	}
	if m.chunks != nil {
		m.sink = sink
		return nil
	}
	m.sink = sink
	m.chunks = make(chan []byte, 64)
	m.stopped = make(chan struct{})
	go m.pump(m.chunks, m.stopped)

	if err := m.device.Start(); err != nil {
		close(m.chunks)
		m.chunks = nil
		return core.NewPermissionError("failed to start microphone", err)
	}
	return nil
}

func (m *Microphone) onData(_, input []byte, _ uint32) {
	m.mu.Lock()
	ch := m.chunks
	m.mu.Unlock()
	if ch == nil || len(input) == 0 {
		return
	}
	chunk := append([]byte(nil), input...)
	select {
	case ch <- chunk:
	default:
	}
}

func (m *Microphone) pump(ch <-chan []byte, stopped chan<- struct{}) {
	defer close(stopped)
	for chunk := range ch {
		m.mu.Lock()
		sink := m.sink
		m.mu.Unlock()
		if sink != nil {
			sink(chunk)
		}
	}
}

// StopStream pauses capture; the device stays acquired.
func (m *Microphone) StopStream() {
	m.mu.Lock()
	ch, stopped := m.chunks, m.stopped
	m.chunks, m.stopped = nil, nil
	if m.device != nil && ch != nil {
		_ = m.device.Stop()
	}
	m.mu.Unlock()

	if ch != nil {
		close(ch)
		<-stopped
	}
}

func (m *Microphone) Close() {
	m.StopStream()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}
