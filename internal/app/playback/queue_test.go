package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/plexbox/internal/domain/track"
)

func queued(id string) track.QueuedTrack {
	return track.QueuedTrack{
		Track: track.Track{
			ID:        id,
			Title:     "Song " + id,
			Artist:    "Artist",
			SourceURL: "src-" + id,
			Duration:  3 * time.Minute,
		},
		Requester: track.Requester{ID: "user-1", Name: "alice", Type: track.RequesterTypeUser},
		ChannelID: "text-1",
	}
}

func ids(items []track.QueuedTrack) []string {
	result := make([]string, len(items))
	for i, qt := range items {
		result[i] = qt.Track.ID
	}
	return result
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue(queued("a"), queued("b"))
	q.Enqueue(queued("c"))

	for _, want := range []string{"a", "b", "c"} {
		qt, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, qt.Track.ID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestQueue_DequeueWaitsForEnqueue(t *testing.T) {
	q := NewQueue()
	got := make(chan track.QueuedTrack, 1)

	go func() {
		qt, err := q.Dequeue(context.Background())
		if err == nil {
			got <- qt
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(queued("a"))
	select {
	case qt := <-got:
		assert.Equal(t, "a", qt.Track.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe enqueue")
	}
}

func TestQueue_DequeueCanceled(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Discard(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		expected  int
		remaining []string
	}{
		{name: "zero", n: 0, expected: 0, remaining: []string{"a", "b", "c"}},
		{name: "negative", n: -1, expected: 0, remaining: []string{"a", "b", "c"}},
		{name: "partial", n: 2, expected: 2, remaining: []string{"c"}},
		{name: "exact", n: 3, expected: 3, remaining: []string{}},
		{name: "beyond length is capped", n: 10, expected: 3, remaining: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue()
			q.Enqueue(queued("a"), queued("b"), queued("c"))

			assert.Equal(t, tt.expected, q.Discard(tt.n))
			assert.Equal(t, tt.remaining, ids(q.Snapshot()))
		})
	}
}

func TestQueue_ClearAndSnapshot(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		q.Enqueue(queued(id))
	}

	snap := q.Snapshot()
	removed := q.Clear()

	assert.Len(t, removed, 5)
	assert.Empty(t, q.Snapshot())
	assert.Equal(t, 0, q.Len())
	// Earlier snapshots are unaffected by later mutation.
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(snap))
}

func TestQueue_Inspection(t *testing.T) {
	q := NewQueue()
	q.Enqueue(queued("a"), queued("b"))
	other := queued("c")
	other.Requester = track.Requester{ID: "user-2", Type: track.RequesterTypeUser}
	album := queued("d")
	album.Requester.Type = track.RequesterTypeAlbum
	q.Enqueue(other, album)

	assert.Equal(t, 4, q.Len())
	assert.Equal(t, 12*time.Minute, q.TotalDuration())
	assert.True(t, q.Contains("c"))
	assert.False(t, q.Contains("z"))
	assert.Equal(t, 2, q.CountRequestedBy("user-1"))
	assert.Equal(t, 1, q.CountRequestedBy("user-2"))
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue()
	const producers, perProducer = 8, 200
	const total = producers * perProducer

	// Enqueue counts bracket the call from both sides, dequeue counts too,
	// so every snapshot length has a safe lower and upper bound.
	var enqStarted, enqDone, deqStarted, deqDone atomic.Int64

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				enqStarted.Add(1)
				q.Enqueue(queued(fmt.Sprintf("p%d-%d", p, i)))
				enqDone.Add(1)
			}
		}(p)
	}

	observed := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(observed)
		for {
			select {
			case <-stop:
				return
			default:
			}

			enqBefore, deqBefore := enqDone.Load(), deqDone.Load()
			snap := q.Snapshot()
			lower := enqBefore - deqStarted.Load()
			upper := enqStarted.Load() - deqBefore

			if !assert.LessOrEqual(t, int64(len(snap)), upper, "snapshot holds uncommitted items") ||
				!assert.GreaterOrEqual(t, int64(len(snap)), lower, "snapshot lost committed items") ||
				!assertConsistent(t, snap) {
				return
			}
		}
	}()

	next := make([]int, producers)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for received := 0; received < total; received++ {
		deqStarted.Add(1)
		qt, err := q.Dequeue(ctx)
		require.NoError(t, err)
		deqDone.Add(1)

		var p, i int
		_, err = fmt.Sscanf(qt.Track.ID, "p%d-%d", &p, &i)
		require.NoError(t, err)
		require.Equal(t, next[p], i, "producer %d dequeued out of order", p)
		next[p]++
	}

	wg.Wait()
	close(stop)
	<-observed
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Snapshot())
}

// assertConsistent checks that a snapshot has no duplicates and holds each
// producer's items as one ascending run without gaps.
func assertConsistent(t *testing.T, snap []track.QueuedTrack) bool {
	t.Helper()
	seen := make(map[string]bool, len(snap))
	last := make(map[int]int)
	for _, qt := range snap {
		if !assert.False(t, seen[qt.Track.ID], "duplicate item %s", qt.Track.ID) {
			return false
		}
		seen[qt.Track.ID] = true

		var p, i int
		if _, err := fmt.Sscanf(qt.Track.ID, "p%d-%d", &p, &i); !assert.NoError(t, err) {
			return false
		}
		if prev, ok := last[p]; ok && !assert.Equal(t, prev+1, i, "producer %d torn in snapshot", p) {
			return false
		}
		last[p] = i
	}
	return true
}
