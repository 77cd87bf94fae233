package blocksync

import (
	"time"

	"github.com/jetcash/jetcash/internal/blockhash"
)

// Hash is a block id.
type Hash = blockhash.Hash

// Height is a block height.
type Height uint64

// RawBlock is an undecoded block plus its raw transaction blobs, exactly
// as received on the wire.
type RawBlock struct {
	Block        []byte
	Transactions [][]byte
}

// PreparedBlock is a parsed block plus, where required, a verified
// proof-of-work hash — the input to BlockchainStore.AddBlock.
type PreparedBlock struct {
	Bid          Hash
	Height       Height
	Block        []byte
	Transactions [][]byte
	PowVerified  bool
}

// SyncData is a peer's most recently advertised chain summary.
type SyncData struct {
	TopID         Hash
	CurrentHeight Height
}

// PeerID addresses a Peer without retaining ownership of it; cells hold
// only this string, and the Peer value itself is kept only in the
// downloader's peer registry from connect until disconnect, per spec.md
// §9 ("never store owning pointers").
type PeerID string

// Peer is an outbound connection to a remote node. The downloader never
// owns a Peer; it is handed one on connect and drops all references to
// it on disconnect.
type Peer interface {
	ID() PeerID
	Address() string
	IsIncoming() bool
	Version() int
	LastReceivedSyncData() SyncData

	// Send enqueues framed_bytes on the peer's outbound buffer. Sends are
	// best-effort and non-blocking (spec.md §5); delivery failure surfaces
	// only as a later disconnect.
	Send(envelope []byte)

	// Disconnect tears down the connection. reason may be empty.
	Disconnect(reason string)
}

// PeerDB throttles reconnection attempts to misbehaving or lagging peers.
type PeerDB interface {
	DelayConnectionAttempt(address string, now time.Time)
}

// BroadcastAction is the outcome of BlockchainStore.AddBlock.
type BroadcastAction int

const (
	// ActionAdded means the block was accepted but need not be rebroadcast.
	ActionAdded BroadcastAction = iota
	// ActionBroadcastAll means the block was accepted and should be
	// rebroadcast to all peers.
	ActionBroadcastAll
	// ActionBan means the block was invalid and its source should be banned.
	ActionBan
)

// BlockHeaderInfo is the decoded header handed back by AddBlock.
type BlockHeaderInfo struct {
	Bid    Hash
	Height Height
}

// BlockchainStore is the external chain-state engine. The downloader
// never evaluates consensus rules itself; it only calls these methods.
type BlockchainStore interface {
	HasBlock(bid Hash) bool
	TipID() Hash
	TipHeight() Height
	GenesisID() Hash
	// SparseChain returns a block-id locator with exponentially
	// increasing gaps ending at genesis.
	SparseChain() []Hash
	// InternalImportKnownHeight returns the height up to which a bulk
	// external importer already knows blocks exist (advance_download is
	// a no-op below this height).
	InternalImportKnownHeight() Height
	AddBlock(pb PreparedBlock) (BroadcastAction, BlockHeaderInfo, error)
	// InCheckpointZone reports whether height falls below the hardcoded
	// trust cutoff, where PoW verification is skipped.
	InCheckpointZone(height Height) bool
}

// PowVerifier computes (or, in the checkpoint zone, skips) the
// proof-of-work hash for a raw block. Implementations are expected to
// hold thread-local state and must be safe to use one-per-worker-goroutine,
// not shared.
type PowVerifier interface {
	// Prepare parses rb into a PreparedBlock at expectedHeight. If
	// verifyPow is true it also computes and checks the PoW hash; if that
	// check fails, Prepare returns an error. The downloader logs that
	// error and still passes the returned block (PowVerified false) to
	// AddBlock, which decides its fate.
	Prepare(bid Hash, expectedHeight Height, rb RawBlock, verifyPow bool) (PreparedBlock, error)
}

// Clock abstracts time so tests can control it; the production
// implementation is realClock (time.Now/time.AfterFunc).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable, resettable single-shot alarm.
type Timer interface {
	Reset(d time.Duration) bool
	Stop() bool
}
