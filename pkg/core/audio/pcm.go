// Package audio provides microphone capture and agent playback for the
// console. Both sides use pcm_16000: signed 16-bit little-endian mono.
package audio

import "sync"

const (
	SampleRate = 16000
	Channels   = 1
	// BytesPerSecond of pcm_16000 audio.
	BytesPerSecond = SampleRate * Channels * 2
)

// pcmQueue is the byte FIFO between network audio and the output device.
// Read blocks until data arrives or the queue is closed; after close it
// yields silence so the device can drain.
type pcmQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newPCMQueue() *pcmQueue {
	q := &pcmQueue{buf: make([]byte, 0, BytesPerSecond*2)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *pcmQueue) Write(p []byte) {
	q.mu.Lock()
	if !q.closed {
		q.buf = append(q.buf, p...)
	}
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *pcmQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed && len(q.buf) == 0 {
		clear(p)
		return len(p), nil
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}

// Buffered reports the number of queued bytes.
func (q *pcmQueue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *pcmQueue) Flush() {
	q.mu.Lock()
	q.buf = q.buf[:0]
	q.mu.Unlock()
}

func (q *pcmQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
