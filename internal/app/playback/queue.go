package playback

import (
	"context"
	"sync"
	"time"

	"github.com/osa030/plexbox/internal/domain/track"
)

// Queue is an unbounded FIFO of queued tracks.
// Any goroutine may append; only the controller loop removes from the head.
type Queue struct {
	mu     sync.Mutex
	items  []track.QueuedTrack
	signal chan struct{} // 1-buffered, written on every enqueue
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items:  make([]track.QueuedTrack, 0),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends items to the tail. It never blocks.
func (q *Queue) Enqueue(items ...track.QueuedTrack) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives after an enqueue.
// A receive only hints that items may exist; callers follow up with TryDequeue.
func (q *Queue) Ready() <-chan struct{} {
	return q.signal
}

// TryDequeue removes and returns the head if there is one.
func (q *Queue) TryDequeue() (track.QueuedTrack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return track.QueuedTrack{}, false
	}
	head := q.items[0]
	q.items[0] = track.QueuedTrack{}
	q.items = q.items[1:]
	return head, true
}

// Dequeue removes the head, waiting until an item exists or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (track.QueuedTrack, error) {
	for {
		if qt, ok := q.TryDequeue(); ok {
			return qt, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return track.QueuedTrack{}, ctx.Err()
		}
	}
}

// Snapshot returns a copy of the queue taken at one instant.
func (q *Queue) Snapshot() []track.QueuedTrack {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]track.QueuedTrack, len(q.items))
	copy(result, q.items)
	return result
}

// Discard removes up to n items from the head and returns how many were removed.
func (q *Queue) Discard(n int) int {
	if n <= 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	for i := 0; i < n; i++ {
		q.items[i] = track.QueuedTrack{}
	}
	q.items = q.items[n:]
	return n
}

// Clear empties the queue and returns the removed items.
func (q *Queue) Clear() []track.QueuedTrack {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := q.items
	q.items = make([]track.QueuedTrack, 0)
	return removed
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TotalDuration returns the summed duration of queued items.
func (q *Queue) TotalDuration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	var total time.Duration
	for _, qt := range q.items {
		total += qt.Track.Duration
	}
	return total
}

// Contains reports whether a track with the given ID is queued.
func (q *Queue) Contains(trackID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, qt := range q.items {
		if qt.Track.ID == trackID {
			return true
		}
	}
	return false
}

// CountRequestedBy returns how many queued items the user requested directly.
func (q *Queue) CountRequestedBy(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, qt := range q.items {
		if qt.Requester.ID == userID && qt.Requester.Type == track.RequesterTypeUser {
			count++
		}
	}
	return count
}
