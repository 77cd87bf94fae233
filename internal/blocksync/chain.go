package blocksync

// chainPlan holds the chain planner's state: a queue of block ids
// awaiting promotion to DownloadCells, and which peer (if any) we are
// currently waiting on for a RESPONSE_CHAIN. Grounded on the m_chain /
// m_chain_client / m_chain_start_height fields of
// original_source/src/Core/NodeDownloader.cpp and the peer-height sort
// in _examples/tendermint-tendermint/blockchain/pool.go's advance_chain
// equivalent.
type chainPlan struct {
	queue       []Hash
	startHeight Height

	hasClient bool
	client    PeerID
	source    string // address of the elected peer, informational
}

func (cp *chainPlan) empty() bool { return len(cp.queue) == 0 }

func (cp *chainPlan) popFront() (Hash, bool) {
	if len(cp.queue) == 0 {
		return Hash{}, false
	}
	h := cp.queue[0]
	cp.queue = cp.queue[1:]
	return h, true
}

// electChainPeer runs the election described in spec.md §4.2. It either
// disconnects a lagging peer (reconciliation will be re-entered by the
// disconnect callback), sends a chain request to the best healthy peer,
// or does nothing.
func (d *Downloader) electChainPeer() {
	if d.chain.hasClient || !d.chain.empty() {
		return
	}

	tip := d.store.TipHeight()
	lagging, healthy := d.peers.partition(tip, Height(d.cfg.GoodLag))

	if len(lagging) > 0 {
		who := lagging[0]
		now := d.clock.Now()
		d.peerDB.DelayConnectionAttempt(who.Address(), now)
		d.logger.Info("disconnecting lagging peer", "peer", who.Address())
		who.Disconnect("")
		return // on_disconnect will re-enter advanceDownload
	}

	if len(healthy) == 0 {
		return
	}
	best := healthy[len(healthy)-1]
	if best.LastReceivedSyncData().CurrentHeight <= tip+Height(len(d.downloadQueue)) {
		return // nothing to plan
	}

	d.chain.hasClient = true
	d.chain.client = best.ID()
	d.sendRequestChain(best, d.store.SparseChain())
	d.armChainTimer()
}

// handleChainResponse processes a RESPONSE_CHAIN from who, per spec.md
// §4.2. Unsolicited responses (wrong source, or planner already
// satisfied) are ignored — the source TODOs a ban for this case and this
// repo preserves that.
func (d *Downloader) handleChainResponse(who Peer, startHeight Height, ids []Hash) {
	if !d.chain.hasClient || who.ID() != d.chain.client || !d.chain.empty() {
		return // TODO: ban, unsolicited chain response
	}

	d.logger.Info("received chain", "peer", who.Address(), "start_height", startHeight, "length", len(ids))

	d.chain.startHeight = startHeight
	d.chain.source = who.Address()
	d.chain.queue = append([]Hash(nil), ids...)

	var lastReceived Hash
	if len(d.chain.queue) > 0 {
		lastReceived = d.chain.queue[len(d.chain.queue)-1]
	}

	scheduled := make(map[Hash]struct{}, len(d.downloadQueue))
	for _, c := range d.downloadQueue {
		scheduled[c.Bid] = struct{}{}
	}

	for len(d.chain.queue) > 0 {
		front := d.chain.queue[0]
		_, isScheduled := scheduled[front]
		if !d.store.HasBlock(front) && !isScheduled {
			break // stop at the first novel id; order must be preserved
		}
		d.chain.queue = d.chain.queue[1:]
		d.chain.startHeight++
	}

	if d.chain.empty() && len(ids) > 1 && lastReceived != (Hash{}) &&
		who.LastReceivedSyncData().CurrentHeight > d.store.TipHeight()+Height(len(d.downloadQueue)) {
		d.logger.Info("requesting more chain", "peer", who.Address(), "jump_from", lastReceived)
		d.sendRequestChain(who, []Hash{lastReceived, d.store.GenesisID()})
		d.armChainTimer()
		return
	}

	if len(ids) != len(d.chain.queue)+1 {
		d.logger.Debug("truncated chain", "length", len(d.chain.queue))
	}

	d.chain.hasClient = false
	d.chain.client = ""
	d.cancelChainTimer()
	d.advanceDownload()
}

// onChainTimer fires when the elected planner peer fails to respond
// within Config.SyncTimeout; disconnecting it clears the planner via
// on_disconnect (spec.md §4.2 "Chain timer fires").
func (d *Downloader) onChainTimer() {
	if !d.chain.hasClient {
		return
	}
	if p, ok := d.peers.get(d.chain.client); ok {
		d.logger.Info("chain request timed out", "peer", p.Address())
		p.Disconnect("")
	}
}
