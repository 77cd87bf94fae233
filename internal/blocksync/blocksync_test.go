package blocksync

import (
	"sync"
	"time"

	"github.com/jetcash/jetcash/internal/log"
)

func noopLogger() log.Logger { return log.NewNopLogger() }

// fakePeer is a minimal in-memory blocksync.Peer for tests: no network,
// just enough bookkeeping to drive the downloader's callbacks.
type fakePeer struct {
	mu sync.Mutex

	id       PeerID
	address  string
	incoming bool
	version  int
	syncData SyncData

	sent        [][]byte
	disconnects int
	lastReason  string
}

func newFakePeer(id PeerID, height Height, topID Hash) *fakePeer {
	return &fakePeer{
		id:      id,
		address: string(id),
		version: 1,
		syncData: SyncData{
			TopID:         topID,
			CurrentHeight: height,
		},
	}
}

func (p *fakePeer) ID() PeerID          { return p.id }
func (p *fakePeer) Address() string     { return p.address }
func (p *fakePeer) IsIncoming() bool    { return p.incoming }
func (p *fakePeer) Version() int        { return p.version }
func (p *fakePeer) LastReceivedSyncData() SyncData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncData
}

func (p *fakePeer) setHeight(h Height) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncData.CurrentHeight = h
}

func (p *fakePeer) Send(envelope []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, envelope)
}

func (p *fakePeer) Disconnect(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	p.lastReason = reason
}

func (p *fakePeer) disconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

// fakePeerDB records delayed addresses without enforcing any cooldown.
type fakePeerDB struct {
	mu      sync.Mutex
	delayed []string
}

func (db *fakePeerDB) DelayConnectionAttempt(address string, now time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.delayed = append(db.delayed, address)
}

// fakeClock is a manually-advanced Clock for deterministic tests.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fireAt: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d and fires (in order) any timer
// whose deadline has passed and that has not since been stopped/reset.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := make([]*fakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fireAt.After(now) {
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.mu.Lock()
		already := t.stopped
		t.stopped = true
		fn := t.fn
		t.mu.Unlock()
		if !already {
			fn()
		}
	}
}

type fakeTimer struct {
	mu      sync.Mutex
	fireAt  time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = false
	t.fireAt = t.fireAt.Add(d)
	return wasActive
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// fakeStore is an in-memory BlockchainStore test double, independent of
// the chainstore package so blocksync's own tests have no import-cycle
// concerns and can poke internals (like ban behavior) directly.
type fakeStore struct {
	mu        sync.Mutex
	genesis   Hash
	chain     []Hash
	checkpoint Height
	banNext   map[Hash]bool
}

func newFakeStore(genesis Hash) *fakeStore {
	return &fakeStore{
		genesis: genesis,
		chain:   []Hash{genesis},
		banNext: make(map[Hash]bool),
	}
}

func (s *fakeStore) HasBlock(bid Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.chain {
		if h == bid {
			return true
		}
	}
	return false
}

func (s *fakeStore) TipID() Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain[len(s.chain)-1]
}

func (s *fakeStore) TipHeight() Height {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Height(len(s.chain) - 1)
}

func (s *fakeStore) GenesisID() Hash { return s.genesis }

func (s *fakeStore) SparseChain() []Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []Hash{s.chain[len(s.chain)-1], s.genesis}
}

func (s *fakeStore) InternalImportKnownHeight() Height { return 0 }

func (s *fakeStore) InCheckpointZone(height Height) bool { return height <= s.checkpoint }

func (s *fakeStore) markBanned(bid Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banNext[bid] = true
}

func (s *fakeStore) AddBlock(pb PreparedBlock) (BroadcastAction, BlockHeaderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banNext[pb.Bid] {
		return ActionBan, BlockHeaderInfo{}, nil
	}
	s.chain = append(s.chain, pb.Bid)
	return ActionBroadcastAll, BlockHeaderInfo{Bid: pb.Bid, Height: pb.Height}, nil
}

// fakePow always succeeds and marks PowVerified as verifyPow.
type fakePow struct{}

func (fakePow) Prepare(bid Hash, expectedHeight Height, rb RawBlock, verifyPow bool) (PreparedBlock, error) {
	return PreparedBlock{Bid: bid, Height: expectedHeight, Block: rb.Block, PowVerified: verifyPow}, nil
}

func newTestDownloader(genesis Hash) (*Downloader, *fakeStore, *fakeClock, *fakePeerDB) {
	store := newFakeStore(genesis)
	clock := newFakeClock(time.Unix(0, 0))
	pdb := &fakePeerDB{}
	cfg := DefaultConfig()
	cfg.WorkerCount = 0 // synchronous prepare path by default in tests
	d := NewDownloader(noopLogger(), cfg, store, pdb, clock, func() PowVerifier { return fakePow{} }, nil)
	return d, store, clock, pdb
}

func hashOf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}
