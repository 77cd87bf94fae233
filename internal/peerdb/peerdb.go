// Package peerdb provides a minimal in-memory blocksync.PeerDB: it
// tracks, per address, the time after which a new connection attempt is
// allowed. spec.md §6 leaves the address book as an external
// collaborator; this in-memory version is enough to run and test the
// downloader end to end (SPEC_FULL.md §6) but is not a persistent peer
// store.
package peerdb

import (
	"sync"
	"time"
)

// DB is a thread-safe blocksync.PeerDB.
type DB struct {
	mu    sync.Mutex
	delay time.Duration
	until map[string]time.Time
}

// New returns a DB that, on DelayConnectionAttempt, blocks reconnection
// for delay (spec.md's banning/"mark peer down" behavior uses a fixed
// cooldown rather than exponential backoff).
func New(delay time.Duration) *DB {
	return &DB{delay: delay, until: make(map[string]time.Time)}
}

// DelayConnectionAttempt implements blocksync.PeerDB.
func (db *DB) DelayConnectionAttempt(address string, now time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.until[address] = now.Add(db.delay)
}

// CanConnect reports whether address's cooldown, if any, has elapsed.
func (db *DB) CanConnect(address string, now time.Time) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.until[address]
	return !ok || now.After(t)
}
