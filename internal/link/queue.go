package link

import (
	"sync/atomic"
	"time"
)

// frameQueueCap bounds buffered frames per connection. Two is enough
// to keep one frame in flight while the consumer works on another;
// anything more only adds latency.
const frameQueueCap = 2

// frameQueue is a bounded most-recent-wins buffer. A push that finds
// the queue full discards the oldest entry. The producer is the
// connection's receive goroutine; consumers pop with a timeout.
type frameQueue struct {
	ch        chan []byte
	dropped   atomic.Int64
	onDropped func()
}

func newFrameQueue(onDropped func()) *frameQueue {
	return &frameQueue{
		ch:        make(chan []byte, frameQueueCap),
		onDropped: onDropped,
	}
}

// push admits the payload, discarding oldest entries as needed. A pop
// racing the discard only makes room, so the loop terminates.
func (q *frameQueue) push(payload []byte) {
	for {
		select {
		case q.ch <- payload:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			if q.onDropped != nil {
				q.onDropped()
			}
		default:
		}
	}
}

// pop returns the oldest buffered frame, or ok=false after the
// timeout.
func (q *frameQueue) pop(timeout time.Duration) ([]byte, bool) {
	select {
	case payload := <-q.ch:
		return payload, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Dropped reports how many frames the queue has discarded.
func (q *frameQueue) Dropped() int64 {
	return q.dropped.Load()
}

// tryPop is pop without waiting.
func (q *frameQueue) tryPop() ([]byte, bool) {
	select {
	case payload := <-q.ch:
		return payload, true
	default:
		return nil, false
	}
}
