package pstate

import "context"

// Future is a minimal channel-backed asynchronous result, returned by the
// external collaborator interfaces (Cursor, LogStore, SnapshotWriter,
// SnapshotReader) and by snapshot.IO.LoadFromSnapshot and
// snapshot.IO.TakeSnapshot. StateManager.Recover does not return one: it
// runs its recoverFn synchronously and returns a plain error. It is modeled on a
// produce-callback style (func(*Record, error)) but exposes a blocking Get
// and a non-blocking Done channel so a caller can select on several
// futures at once, the way an append pipeline selects on its per-request
// acknowledgement channels.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// NewFuture returns a Future paired with the resolve function that
// completes it. resolve must be called exactly once.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	var resolved bool
	resolve := func(v T, err error) {
		if resolved {
			return
		}
		resolved = true
		f.val, f.err = v, err
		close(f.done)
	}
	return f, resolve
}

// Resolved returns an already-complete Future, useful for synchronous
// fast paths (e.g. loadFromSnapshot with nothing to load).
func Resolved[T any](v T, err error) *Future[T] {
	f, resolve := NewFuture[T]()
	resolve(v, err)
	return f
}

// Done is closed once the future has resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Get blocks until the future resolves or ctx is done, whichever comes
// first.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
