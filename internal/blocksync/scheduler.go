package blocksync

// promote moves ids from the chain queue into DownloadCells until the
// download window is full or the chain queue is drained. spec.md §4.3
// step 1.
func (d *Downloader) promote() {
	for len(d.downloadQueue) < d.cfg.TotalDownloadWindow && !d.chain.empty() {
		bid, ok := d.chain.popFront()
		if !ok {
			break
		}
		cell := newDownloadCell(bid, d.chain.startHeight, d.chain.source)
		d.downloadQueue = append(d.downloadQueue, cell)
		d.chain.startHeight++
	}
}

// assign picks a peer for every unassigned DOWNLOADING cell, in queue
// order, per spec.md §4.3 step 3. Ranking minimizes in_flight/speed,
// where speed is the peer's clamped recent-download count; ties resolve
// to the first peer encountered (map iteration order in Go is
// unspecified, so callers needing determinism across runs should not
// rely on tie-breaks beyond "some single peer wins").
func (d *Downloader) assign() {
	downloadedCounts := d.peers.downloadedCounts()
	maxSpeed := d.cfg.TotalDownloadBlocks / 4
	if maxSpeed < 1 {
		maxSpeed = 1
	}

	for _, cell := range d.downloadQueue {
		if cell.Status() != statusDownloading || cell.HasClient() {
			continue
		}
		if d.peers.total >= d.cfg.TotalDownloadBlocks {
			break
		}

		var (
			best      Peer
			bestFound bool
			bestCount = 0
			bestSpeed = 1
		)
		for id, p := range d.peers.peers {
			speed := clamp(downloadedCounts[id], 1, maxSpeed)
			inFlight := d.peers.counts[id]
			if p.LastReceivedSyncData().CurrentHeight < cell.ExpectedHeight {
				continue
			}
			if !bestFound || inFlight*bestSpeed < bestCount*speed {
				best = p
				bestFound = true
				bestCount = inFlight
				bestSpeed = speed
			}
		}
		if !bestFound {
			continue // a faster peer may catch up later; try the next cell
		}

		cell.assignClient(best.ID(), d.clock.Now())
		d.peers.incr(best.ID())
		d.sendRequestGetObjects(best, cell.Bid)
		d.rateLimitedLog(&d.lastRequestLog, "requesting block", "height", cell.ExpectedHeight, "peer", best.Address())
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// enforceSlackerPolicy implements spec.md §4.3 step 4: detect a
// head-of-line hard timeout or relative slowness, and if triggered,
// protect every cell assigned to the offending peer before disconnecting
// it (so the same peer is not re-flagged on the next tick through cells
// it still owns).
func (d *Downloader) enforceSlackerPolicy() {
	if len(d.downloadQueue) == 0 {
		return
	}
	head := d.downloadQueue[0]
	now := d.clock.Now()

	hardTimeout := head.Status() == statusDownloading && head.HasClient() &&
		!head.ProtectFromDisconnect &&
		now.Sub(head.RequestTime) > 2*d.cfg.SyncTimeout

	relativelySlow := d.peers.total < d.cfg.TotalDownloadBlocks &&
		len(d.downloadQueue) >= d.cfg.TotalDownloadWindow &&
		d.peers.len() > 1 &&
		head.Status() == statusDownloading && head.HasClient() &&
		!head.ProtectFromDisconnect

	if !hardTimeout && !relativelySlow {
		return
	}

	who := head.DownloadingClient
	for _, c := range d.downloadQueue {
		if c.HasClient() && c.DownloadingClient == who {
			c.ProtectFromDisconnect = true
		}
	}
	d.disconnectSlacker(who)
}

func (d *Downloader) disconnectSlacker(who PeerID) {
	p, ok := d.peers.get(who)
	if !ok {
		return
	}
	d.peerDB.DelayConnectionAttempt(p.Address(), d.clock.Now())
	d.logger.Info("disconnecting slacker", "peer", p.Address())
	p.Disconnect("")
}

// onDownloadTimer is the second-chance path (spec.md §4.3 "Download
// timer"): a once-protected peer that is still sitting on the head cell
// past SyncTimeout gets evicted here rather than by advanceDownload.
func (d *Downloader) onDownloadTimer() {
	d.armDownloadTimer()
	if len(d.downloadQueue) == 0 {
		return
	}
	head := d.downloadQueue[0]
	if head.Status() != statusDownloading || !head.HasClient() || !head.ProtectFromDisconnect {
		return
	}
	if d.clock.Now().Sub(head.RequestTime) <= d.cfg.SyncTimeout {
		return
	}
	d.disconnectSlacker(head.DownloadingClient)
}
