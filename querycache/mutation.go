package querycache

import "context"

// Mutation is one optimistic write against a single cached query. The
// sequence is fixed: snapshot the current value, apply Optimistic before the
// network call dispatches, roll back to the snapshot if Send fails, and
// invalidate the key once the call settles either way so the confirmed
// server value supersedes the guess.
//
// Overlapping mutations against the same key are not serialized; a
// later-arriving response can overwrite an earlier optimistic write.
type Mutation[T any] struct {
	Store *Store
	Key   string

	// Optimistic computes the expected next state from the previous cached
	// value. prev is the zero value when nothing is cached yet.
	Optimistic func(prev T) T

	// Send performs the network write.
	Send func(ctx context.Context) error

	// OnSuccess runs after a confirmed write, before invalidation. Optional.
	OnSuccess func()

	// OnError runs after rollback with the send error. Optional.
	OnError func(err error)
}

// Run executes the mutation. The returned error is Send's error, after the
// cache has been rolled back and the caller's OnError hook has run.
func (m Mutation[T]) Run(ctx context.Context) error {
	snapshot, had := m.Store.Get(m.Key)

	var prev T
	if had {
		if tv, ok := snapshot.(T); ok {
			prev = tv
		}
	}
	m.Store.setOptimistic(m.Key, m.Optimistic(prev))

	err := m.Send(ctx)
	if err != nil {
		m.Store.restore(m.Key, snapshot, had)
		if m.OnError != nil {
			m.OnError(err)
		}
	} else if m.OnSuccess != nil {
		m.OnSuccess()
	}

	m.Store.Invalidate(m.Key)
	return err
}
