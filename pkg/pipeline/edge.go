package pipeline

import "sync/atomic"

// edge indirects a processor-worker-to-batcher subscription through an
// atomic pointer. The processor pool restarts as a whole (one_for_all,
// §4.6); each restarted worker installs a fresh Link here, and the
// batcher's resubscribe loop (§4.4) picks it up the next time it polls,
// rather than the batcher needing to be told directly.
type edge[T any] struct {
	ptr atomic.Pointer[Link[T]]
}

func newEdge[T any](link *Link[T]) *edge[T] {
	e := &edge[T]{}
	e.ptr.Store(link)
	return e
}

// set installs link as the edge's current target and fails whatever link
// it replaces. A watcher still holding the old link (a batcher's watch
// goroutine, or a resubscribe caller that already read it) sees its next
// Receive/Send fail instead of blocking on an orphaned link forever; that
// failure is what drives the evRefDown → resubscribe cycle (§4.4).
func (e *edge[T]) set(link *Link[T]) {
	old := e.ptr.Swap(link)
	if old != nil {
		old.Fail()
	}
}

func (e *edge[T]) get() *Link[T] {
	return e.ptr.Load()
}
