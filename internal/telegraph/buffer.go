package telegraph

import (
	"context"
	"sync"
	"time"
)

// maxBuffered caps the events a push transport holds between polls.
const maxBuffered = 1000

// UpdateBuffer adapts push-style platforms (socket or gateway events) to
// the cursor model of Transport.Updates. IDs start from the wall clock in
// milliseconds so they keep increasing across restarts.
type UpdateBuffer struct {
	mu      sync.Mutex
	next    int64
	pending []Update
	notify  chan struct{}
}

// NewUpdateBuffer returns a buffer whose first ID is seeded from now.
func NewUpdateBuffer() *UpdateBuffer {
	return &UpdateBuffer{
		next:   time.Now().UnixMilli(),
		notify: make(chan struct{}, 1),
	}
}

// Push assigns u the next ID and queues it. When the buffer is full the
// oldest update is dropped.
func (b *UpdateBuffer) Push(u Update) int64 {
	b.mu.Lock()
	b.next++
	u.ID = b.next
	b.pending = append(b.pending, u)
	if len(b.pending) > maxBuffered {
		b.pending = b.pending[len(b.pending)-maxBuffered:]
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return u.ID
}

// Poll returns buffered updates with ID greater than cursor, waiting up to
// wait for one to arrive. Updates at or below cursor are discarded.
func (b *UpdateBuffer) Poll(ctx context.Context, cursor int64, wait time.Duration) ([]Update, error) {
	if out := b.take(cursor); len(out) > 0 || wait <= 0 {
		return out, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return b.take(cursor), nil
		case <-b.notify:
			if out := b.take(cursor); len(out) > 0 {
				return out, nil
			}
		}
	}
}

func (b *UpdateBuffer) take(cursor int64) []Update {
	b.mu.Lock()
	defer b.mu.Unlock()

	keep := b.pending[:0]
	var out []Update
	for _, u := range b.pending {
		if u.ID <= cursor {
			continue
		}
		out = append(out, u)
		keep = append(keep, u)
	}
	b.pending = keep
	return out
}
