package blocksync

import "sort"

// peerSet is the registry of outbound peers eligible to serve blocks,
// with a per-peer count of outstanding block requests. Grounded on the
// teacher's bpPeer map in _examples/tendermint-tendermint/blockchain/pool.go,
// generalized from a single counter to the fuller bookkeeping spec.md §3
// requires.
type peerSet struct {
	peers map[PeerID]Peer
	// counts is the per-peer number of cells currently assigned to it.
	counts map[PeerID]int
	total  int

	// recentDownloaders is the bounded FIFO of peers who most recently
	// delivered a block, used for the fairness weighting in the
	// scheduler (spec.md §3 "recent-downloader ring").
	recentDownloaders []PeerID
	ringCapacity      int
}

func newPeerSet(ringCapacity int) *peerSet {
	return &peerSet{
		peers:        make(map[PeerID]Peer),
		counts:       make(map[PeerID]int),
		ringCapacity: ringCapacity,
	}
}

func (ps *peerSet) add(p Peer) {
	ps.peers[p.ID()] = p
	if _, ok := ps.counts[p.ID()]; !ok {
		ps.counts[p.ID()] = 0
	}
}

func (ps *peerSet) has(id PeerID) bool {
	_, ok := ps.peers[id]
	return ok
}

func (ps *peerSet) get(id PeerID) (Peer, bool) {
	p, ok := ps.peers[id]
	return p, ok
}

func (ps *peerSet) len() int { return len(ps.peers) }

// remove erases id from the registry, asserting (per spec.md §4.1) that
// total_downloading_blocks never underflows relative to this peer's
// count — a violation is an internal logic fault.
func (ps *peerSet) remove(id PeerID) {
	count, ok := ps.counts[id]
	if !ok {
		return
	}
	if ps.total < count {
		panic("blocksync: total_downloading_blocks underflow on peer removal")
	}
	ps.total -= count
	delete(ps.counts, id)
	delete(ps.peers, id)

	filtered := ps.recentDownloaders[:0]
	for _, r := range ps.recentDownloaders {
		if r != id {
			filtered = append(filtered, r)
		}
	}
	ps.recentDownloaders = filtered
}

func (ps *peerSet) incr(id PeerID) {
	ps.counts[id]++
	ps.total++
}

// decr decrements both the peer's count and the global total, treating
// underflow of either as a fatal invariant breach (spec.md §7, §9).
func (ps *peerSet) decr(id PeerID) {
	c, ok := ps.counts[id]
	if !ok || c == 0 || ps.total == 0 {
		panic("blocksync: DownloadCell reference to peer not found, or counter underflow")
	}
	ps.counts[id] = c - 1
	ps.total--
}

func (ps *peerSet) recordDownload(id PeerID) {
	ps.recentDownloaders = append(ps.recentDownloaders, id)
	if len(ps.recentDownloaders) > ps.ringCapacity {
		ps.recentDownloaders = ps.recentDownloaders[len(ps.recentDownloaders)-ps.ringCapacity:]
	}
}

// downloadedCounts returns, for every peer that appears in the ring, the
// number of times it appears — used by the scheduler to compute "speed."
func (ps *peerSet) downloadedCounts() map[PeerID]int {
	out := make(map[PeerID]int, len(ps.peers))
	for _, r := range ps.recentDownloaders {
		out[r]++
	}
	return out
}

// partition splits peers into lagging (more than goodLag behind tip) and
// healthy, the latter sorted by ascending advertised height — spec.md §4.2
// step 1-2.
func (ps *peerSet) partition(tip Height, goodLag Height) (lagging []Peer, healthyAscending []Peer) {
	for _, p := range ps.peers {
		h := p.LastReceivedSyncData().CurrentHeight
		if h+goodLag < tip {
			lagging = append(lagging, p)
		} else {
			healthyAscending = append(healthyAscending, p)
		}
	}
	sort.Slice(healthyAscending, func(i, j int) bool {
		return healthyAscending[i].LastReceivedSyncData().CurrentHeight <
			healthyAscending[j].LastReceivedSyncData().CurrentHeight
	})
	return lagging, healthyAscending
}

// maxKnownHeight folds floor with the highest height any registered peer
// has advertised. Grounded on DownloaderV11::get_known_block_count in
// original_source/src/Core/NodeDownloader.cpp. The scheduler does not
// use it (it always consults the blockchain's own tip), and no other
// package calls it.
func (ps *peerSet) maxKnownHeight(floor Height) Height {
	my := floor
	for _, p := range ps.peers {
		if h := p.LastReceivedSyncData().CurrentHeight; h > my {
			my = h
		}
	}
	return my
}
