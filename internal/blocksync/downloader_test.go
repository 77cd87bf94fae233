package blocksync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnConnect_IgnoresIncomingAndOldVersionPeers(t *testing.T) {
	d, _, _, _ := newTestDownloader(hashOf(0))

	incoming := newFakePeer("in", 10, hashOf(0))
	incoming.incoming = true
	d.OnConnect(incoming)
	assert.Equal(t, 0, d.PeerCount())

	old := newFakePeer("old", 10, hashOf(0))
	old.version = 0
	d.OnConnect(old)
	assert.Equal(t, 0, d.PeerCount())
}

func TestOnDisconnect_UnassignsInFlightCellsAndClearsChainClient(t *testing.T) {
	d, _, _, _ := newTestDownloader(hashOf(0))
	p := newFakePeer("p1", 10, hashOf(0))
	d.peers.add(p)
	d.peers.incr("p1")

	cell := newDownloadCell(hashOf(1), 1, "")
	cell.assignClient("p1", d.clock.Now())
	d.downloadQueue = []*DownloadCell{cell}
	d.chain.hasClient = true
	d.chain.client = "p1"

	d.OnDisconnect(p)

	assert.False(t, d.peers.has("p1"))
	assert.False(t, cell.HasClient())
	assert.False(t, d.chain.hasClient)
}

func TestOnDisconnect_PanicsOnTotalUnderflow(t *testing.T) {
	d, _, _, _ := newTestDownloader(hashOf(0))
	p := newFakePeer("p1", 10, hashOf(0))
	d.peers.add(p)
	// Force total_downloading_blocks out of sync with the registry to
	// simulate the invariant breach the spec calls out: disconnecting a
	// peer that still "owns" more in-flight requests than recorded.
	d.peers.counts["p1"] = 1
	d.peers.total = 0

	assert.Panics(t, func() { d.OnDisconnect(p) })
}

func TestOnMsgNotifyRequestObjects_UnsolicitedBlockDisconnectsAndLeavesOtherRequests(t *testing.T) {
	d, _, _, _ := newTestDownloader(hashOf(0))
	p := newFakePeer("p1", 10, hashOf(0))
	d.peers.add(p)

	owned := newDownloadCell(hashOf(2), 2, "")
	owned.assignClient("p1", d.clock.Now())
	d.peers.incr("p1")
	d.downloadQueue = []*DownloadCell{owned}

	// Deliver a block whose hash matches no cell assigned to p1.
	stray := RawBlock{Block: []byte("stray")}
	d.OnMsgNotifyRequestObjects(p, []RawBlock{stray}, func(rb RawBlock) (Hash, error) {
		return hashOf(99), nil // does not match any assigned cell
	})

	assert.Equal(t, 1, p.disconnectCount())
	assert.True(t, owned.IsDownloading(), "the unrelated in-flight cell is untouched by the stray delivery")
}

func TestOnMsgNotifyRequestObjects_CheckpointZoneSkipsPowVerification(t *testing.T) {
	d, store, _, _ := newTestDownloader(hashOf(0))
	store.checkpoint = 5

	p := newFakePeer("p1", 10, hashOf(0))
	d.peers.add(p)

	cell := newDownloadCell(hashOf(1), 3, "") // height 3 is inside the checkpoint zone
	cell.assignClient("p1", d.clock.Now())
	d.peers.incr("p1")
	d.downloadQueue = []*DownloadCell{cell}

	d.OnMsgNotifyRequestObjects(p, []RawBlock{{Block: []byte("b")}}, func(rb RawBlock) (Hash, error) {
		return hashOf(1), nil
	})

	require.Equal(t, statusPrepared, cell.Status(), "synchronous path (WorkerCount=0) advances straight to PREPARED")
	assert.False(t, cell.PB.PowVerified, "checkpoint-zone blocks are prepared without a PoW check")
}

func TestOnMsgNotifyRequestObjects_OutsideCheckpointZoneVerifiesPow(t *testing.T) {
	d, store, _, _ := newTestDownloader(hashOf(0))
	store.checkpoint = 0

	p := newFakePeer("p1", 10, hashOf(0))
	d.peers.add(p)
	cell := newDownloadCell(hashOf(1), 3, "")
	cell.assignClient("p1", d.clock.Now())
	d.peers.incr("p1")
	d.downloadQueue = []*DownloadCell{cell}

	d.OnMsgNotifyRequestObjects(p, []RawBlock{{Block: []byte("b")}}, func(rb RawBlock) (Hash, error) {
		return hashOf(1), nil
	})

	assert.True(t, cell.PB.PowVerified)
}

func TestOnIdle_DrainsPreparedCellsInOrderAndStopsAtFirstNonPrepared(t *testing.T) {
	d, store, _, _ := newTestDownloader(hashOf(0))

	prepared := newDownloadCell(hashOf(1), 1, "")
	prepared.status = statusDownloaded
	prepared.advanceToPrepared(PreparedBlock{Bid: hashOf(1), Height: 1})

	notYet := newDownloadCell(hashOf(2), 2, "")
	d.downloadQueue = []*DownloadCell{prepared, notYet}

	more := d.OnIdle()

	assert.Len(t, d.downloadQueue, 1, "only the PREPARED head is drained")
	assert.Equal(t, hashOf(2), d.downloadQueue[0].Bid)
	assert.True(t, store.HasBlock(hashOf(1)))
	assert.False(t, more, "the new head is not PREPARED yet")
}

func TestOnIdle_BanActionTriggersBanPlannerWhenConfigured(t *testing.T) {
	d, store, _, pdb := newTestDownloader(hashOf(0))
	d.cfg.BanPlannerOnFailedAdd = true

	source := newFakePeer("source", 10, hashOf(0))
	d.peers.add(source)

	cell := newDownloadCell(hashOf(1), 1, "source")
	cell.status = statusDownloaded
	cell.advanceToPrepared(PreparedBlock{Bid: hashOf(1), Height: 1})
	d.downloadQueue = []*DownloadCell{cell}

	store.markBanned(hashOf(1))

	d.OnIdle()

	assert.Equal(t, 1, source.disconnectCount())
	assert.Contains(t, pdb.delayed, "source")
}

func TestAdvanceDownload_NoopDuringBulkImport(t *testing.T) {
	d, _, _, _ := newTestDownloader(hashOf(0))
	d.SetBulkImportActive(true)
	d.chain.queue = []Hash{hashOf(1)}

	d.advanceDownload()

	assert.False(t, d.chain.empty(), "promote never runs while bulk import is active")
}

func TestAdvanceDownload_IsIdempotent(t *testing.T) {
	d, _, _, _ := newTestDownloader(hashOf(0))
	d.peers.add(newFakePeer("p1", 5, hashOf(0)))

	d.advanceDownload()
	queueLenAfterFirst := len(d.downloadQueue)
	chainClientAfterFirst := d.chain.hasClient

	d.advanceDownload()

	assert.Equal(t, queueLenAfterFirst, len(d.downloadQueue))
	assert.Equal(t, chainClientAfterFirst, d.chain.hasClient)
}

// TestScenario_CleanCatchUp grounds spec.md §8 scenario 1: a healthy
// higher peer gets the chain request, and every returned id is promoted
// into a DownloadCell.
func TestScenario_CleanCatchUp(t *testing.T) {
	d, store, _, _ := newTestDownloader(hashOf(0))
	for i := byte(1); i <= 9; i++ {
		store.chain = append(store.chain, hashOf(i))
	}

	peer := newFakePeer("p1", 20, hashOf(9))
	d.peers.add(peer)

	d.advanceDownload()
	require.True(t, d.chain.hasClient)
	require.Equal(t, PeerID("p1"), d.chain.client)

	ids := []Hash{hashOf(11), hashOf(12), hashOf(13)}
	d.handleChainResponse(peer, 10, ids)

	require.Len(t, d.downloadQueue, 3)
	for i, c := range d.downloadQueue {
		assert.Equal(t, Height(10+i), c.ExpectedHeight)
		assert.True(t, c.HasClient(), "the only known peer is assigned every cell")
	}
}

// TestScenario_LaggingPeer grounds spec.md §8 scenario 2.
func TestScenario_LaggingPeer(t *testing.T) {
	d, store, _, pdb := newTestDownloader(hashOf(0))
	for i := byte(1); i <= 100; i++ {
		store.chain = append(store.chain, hashOf(i))
	}

	// 94 + GoodLag(5) < tip(100): one block past the tolerated lag.
	laggy := newFakePeer("laggy", 94, hashOf(94))
	ahead := newFakePeer("ahead", 1000, hashOf(0))
	d.peers.add(laggy)
	d.peers.add(ahead)

	d.advanceDownload()

	assert.Equal(t, 1, laggy.disconnectCount())
	assert.Contains(t, pdb.delayed, "laggy")
	assert.Equal(t, 0, ahead.disconnectCount())
}

// TestScenario_HeadOfLineSlacker grounds spec.md §8 scenario 4.
func TestScenario_HeadOfLineSlacker(t *testing.T) {
	d, _, clock, _ := newTestDownloader(hashOf(0))
	d.cfg.TotalDownloadWindow = 2
	d.cfg.TotalDownloadBlocks = 400

	slacker := newFakePeer("slacker", 1000, hashOf(0))
	helper := newFakePeer("helper", 1000, hashOf(0))
	d.peers.add(slacker)
	d.peers.add(helper)

	head := newDownloadCell(hashOf(1), 1, "")
	head.assignClient("slacker", clock.Now())
	tail := newDownloadCell(hashOf(2), 2, "")
	tail.assignClient("helper", clock.Now())
	d.downloadQueue = []*DownloadCell{head, tail}
	d.peers.incr("slacker")
	d.peers.incr("helper")

	d.enforceSlackerPolicy()

	assert.Equal(t, 1, slacker.disconnectCount())
	assert.True(t, head.ProtectFromDisconnect)
}

// TestScenario_ProtectedThenTimeout grounds spec.md §8 scenario 5: only
// the download timer, not advanceDownload's own slacker check, evicts a
// protected peer once SYNC_TIMEOUT elapses.
func TestScenario_ProtectedThenTimeout(t *testing.T) {
	d, _, clock, _ := newTestDownloader(hashOf(0))
	p := newFakePeer("protected", 10, hashOf(0))
	d.peers.add(p)

	head := newDownloadCell(hashOf(1), 1, "")
	head.assignClient("protected", clock.Now())
	head.ProtectFromDisconnect = true
	d.downloadQueue = []*DownloadCell{head}

	clock.Advance(d.cfg.SyncTimeout - time.Millisecond)
	d.onDownloadTimer()
	assert.Equal(t, 0, p.disconnectCount(), "not yet past SYNC_TIMEOUT")

	clock.Advance(2 * time.Millisecond)
	d.onDownloadTimer()
	assert.Equal(t, 1, p.disconnectCount())
}

// TestScenario_CheckpointZoneSkip grounds spec.md §8 scenario 6 (see also
// TestOnMsgNotifyRequestObjects_CheckpointZoneSkipsPowVerification above
// for the mechanism); this test checks the worker-submission path
// instead of the synchronous one.
func TestScenario_CheckpointZoneSkip(t *testing.T) {
	d, store, _, _ := newTestDownloader(hashOf(0))
	d.cfg.WorkerCount = 1
	store.checkpoint = 100

	p := newFakePeer("p1", 10, hashOf(0))
	d.peers.add(p)
	cell := newDownloadCell(hashOf(1), 50, "")
	cell.assignClient("p1", d.clock.Now())
	d.peers.incr("p1")
	d.downloadQueue = []*DownloadCell{cell}

	ctx, cancel := context.WithCancel(context.Background())
	d.worker.Start(ctx, 1)
	defer func() {
		cancel()
		d.worker.Stop()
	}()

	d.OnMsgNotifyRequestObjects(p, []RawBlock{{Block: []byte("b")}}, func(rb RawBlock) (Hash, error) {
		return hashOf(1), nil
	})

	require.Equal(t, statusPreparing, cell.Status())

	select {
	case <-d.worker.WakeCh():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never completed")
	}
	results := d.worker.drainCompleted()
	require.Contains(t, results, hashOf(1))
	assert.False(t, results[hashOf(1)].pb.PowVerified)
}
