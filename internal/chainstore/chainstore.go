// Package chainstore provides a minimal in-memory blocksync.BlockchainStore.
// spec.md §6 treats the blockchain itself as an external collaborator;
// this store holds just enough state — an ordered chain of block ids and
// a genesis id — to exercise and test the downloader end to end
// (SPEC_FULL.md §12). It performs no consensus validation: AddBlock
// always accepts blocks that extend the tip in order.
package chainstore

import (
	"fmt"
	"sync"

	"github.com/jetcash/jetcash/internal/blocksync"
)

// Store is a thread-safe, append-only chain of accepted block ids.
type Store struct {
	mu sync.RWMutex

	genesis blocksync.Hash
	chain   []blocksync.Hash // index 0 is genesis

	// checkpointHeight is the height at or below which PoW verification
	// is skipped, mirroring the original's hardcoded checkpoint list.
	checkpointHeight blocksync.Height

	// importKnownHeight is not read: this store never runs a bulk
	// importer, and InternalImportKnownHeight always returns 0.
	importKnownHeight blocksync.Height

	byID map[blocksync.Hash]blocksync.Height
}

// New creates a Store seeded with genesis at height 0.
func New(genesis blocksync.Hash, checkpointHeight blocksync.Height) *Store {
	s := &Store{
		genesis:          genesis,
		chain:            []blocksync.Hash{genesis},
		checkpointHeight: checkpointHeight,
		byID:             map[blocksync.Hash]blocksync.Height{genesis: 0},
	}
	return s
}

// HasBlock implements blocksync.BlockchainStore.
func (s *Store) HasBlock(bid blocksync.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[bid]
	return ok
}

// TipID implements blocksync.BlockchainStore.
func (s *Store) TipID() blocksync.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain[len(s.chain)-1]
}

// TipHeight implements blocksync.BlockchainStore.
func (s *Store) TipHeight() blocksync.Height {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return blocksync.Height(len(s.chain) - 1)
}

// GenesisID implements blocksync.BlockchainStore.
func (s *Store) GenesisID() blocksync.Hash { return s.genesis }

// SparseChain implements blocksync.BlockchainStore, returning a locator
// with exponentially increasing gaps from the tip back to genesis,
// matching the sparse-chain protocol in spec.md §4.2.
func (s *Store) SparseChain() []blocksync.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []blocksync.Hash
	tip := len(s.chain) - 1
	step := 1
	for i := tip; i >= 0; i -= step {
		ids = append(ids, s.chain[i])
		step *= 2
	}
	if ids[len(ids)-1] != s.genesis {
		ids = append(ids, s.genesis)
	}
	return ids
}

// InternalImportKnownHeight implements blocksync.BlockchainStore. This
// reference store never runs a bulk importer, so it always returns 0.
func (s *Store) InternalImportKnownHeight() blocksync.Height { return 0 }

// InCheckpointZone implements blocksync.BlockchainStore.
func (s *Store) InCheckpointZone(height blocksync.Height) bool {
	return height <= s.checkpointHeight
}

// AddBlock implements blocksync.BlockchainStore. It accepts pb only if
// it extends the current tip at exactly the next height; anything else
// is a caller bug (the downloader is specified to only ever hand blocks
// to AddBlock in strict height order) and results in ActionBan.
func (s *Store) AddBlock(pb blocksync.PreparedBlock) (blocksync.BroadcastAction, blocksync.BlockHeaderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := blocksync.Height(len(s.chain))
	if pb.Height != want {
		return blocksync.ActionBan, blocksync.BlockHeaderInfo{}, fmt.Errorf(
			"chainstore: out-of-order block: got height %d, want %d", pb.Height, want)
	}

	s.chain = append(s.chain, pb.Bid)
	s.byID[pb.Bid] = pb.Height

	return blocksync.ActionBroadcastAll, blocksync.BlockHeaderInfo{Bid: pb.Bid, Height: pb.Height}, nil
}
