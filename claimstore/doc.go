// Package claimstore is the in-memory, append-only claim store.
//
// Every identity owns a channel: an ordered, hash-linked history of the
// claims it signed. A claim's id is its signature, so resubmitting the
// same signed payload is an idempotent no-op. Channels are private to
// their owner until the owner claims an access grant (the DISCIPL_ALLOW
// attribute), which opens either the whole channel or a single claim to
// one accessor or to everyone.
//
// Observers subscribe to one channel or to all of them and receive every
// accepted claim they are permitted to see, in chain order. Identities
// that have been idle longer than the retention window are evicted by
// the Sweeper.
//
// Locking: the channel map is taken before a channel, and a channel
// before the global observer list. Sinks are never invoked under a lock.
package claimstore
