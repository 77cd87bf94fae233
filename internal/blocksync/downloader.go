// Package blocksync implements the block downloader subsystem described
// in spec.md: multi-peer chain discovery, parallel block fetching with
// per-peer fairness and timeout eviction, out-of-order re-sequencing, a
// worker pool for proof-of-work verification, and in-order handoff to
// the blockchain.
package blocksync

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jetcash/jetcash/internal/log"
	"github.com/jetcash/jetcash/internal/service"
	"github.com/jetcash/jetcash/internal/wirecodec"
)

var defaultCodec = wirecodec.NewCodec()

// Config holds the downloader's tunables. spec.md §9 Open Question (b)
// leaves TOTAL_DOWNLOAD_BLOCKS/TOTAL_DOWNLOAD_WINDOW as disabled
// constants with a TODO to make them dynamic; this repo adopts that and
// exposes every tunable here instead of as package constants.
type Config struct {
	SyncTimeout         time.Duration
	GoodLag             int
	TotalDownloadBlocks int
	TotalDownloadWindow int
	IdleDrainBudget     time.Duration
	WorkerCount         int

	// BanPlannerOnFailedAdd resolves spec.md §9 Open Question (a): when
	// set, a cell whose AddBlock returns ActionBan also penalizes the
	// peer recorded in DownloadCell.BidSource, if still connected.
	BanPlannerOnFailedAdd bool
}

// DefaultConfig returns the tunables spec.md names as constants.
func DefaultConfig() Config {
	return Config{
		SyncTimeout:         30 * time.Second,
		GoodLag:             5,
		TotalDownloadBlocks: 400,
		TotalDownloadWindow: 2000,
		IdleDrainBudget:     100 * time.Millisecond,
		WorkerCount:         defaultWorkerCount(),
	}
}

// defaultWorkerCount follows the original's max(2, hardware_concurrency/2)
// to avoid hyperthread over-subscription.
func defaultWorkerCount() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	return n
}

// Downloader is the long-lived object described in spec.md §2, bound to
// a single logical event loop (its methods are not safe to call
// concurrently with each other — the embedding node is expected to
// serialize calls the way a real event loop would).
type Downloader struct {
	service.BaseService

	logger log.Logger
	cfg    Config

	store  BlockchainStore
	peerDB PeerDB
	clock  Clock

	metrics *Metrics

	peers *peerSet
	chain chainPlan

	downloadQueue []*DownloadCell

	chainTimer    Timer
	downloadTimer Timer

	worker *workerPool

	bulkImportActive uint32 // atomic bool; set by an external importer

	lastRequestLog  time.Time
	lastResponseLog time.Time

	sendRequestChainFn      func(Peer, []Hash)
	sendRequestGetObjectsFn func(Peer, Hash)

	onBlocksDrained func() // test/metrics hook, called after a non-empty idle drain
}

// NewDownloader constructs a Downloader. powFactory must return a fresh
// PowVerifier per call — the worker pool calls it once per goroutine so
// each worker gets its own (non-shared) hash context, per spec.md §4.4.
func NewDownloader(
	logger log.Logger,
	cfg Config,
	store BlockchainStore,
	peerDB PeerDB,
	clock Clock,
	powFactory func() PowVerifier,
	metrics *Metrics,
) *Downloader {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	d := &Downloader{
		logger:  logger,
		cfg:     cfg,
		store:   store,
		peerDB:  peerDB,
		clock:   clock,
		metrics: metrics,
		peers:   newPeerSet(cfg.TotalDownloadBlocks),
		worker:  newWorkerPool(logger, cfg.WorkerCount, powFactory),
	}
	d.sendRequestChainFn = d.defaultSendRequestChain
	d.sendRequestGetObjectsFn = d.defaultSendRequestGetObjects
	d.BaseService = *service.NewBaseService(logger, "Downloader", d)
	return d
}

// OnStart starts the worker pool and arms the recurring download timer.
func (d *Downloader) OnStart(ctx context.Context) error {
	d.worker.Start(ctx, d.cfg.WorkerCount)
	d.armDownloadTimer()
	return nil
}

// OnStop joins the worker pool.
func (d *Downloader) OnStop() {
	d.worker.Stop()
	d.cancelChainTimer()
	if d.downloadTimer != nil {
		d.downloadTimer.Stop()
	}
}

// SetBulkImportActive toggles the external bulk-import gate described in
// spec.md §4.3 ("No-op if a bulk external importer is active").
func (d *Downloader) SetBulkImportActive(active bool) {
	v := uint32(0)
	if active {
		v = 1
	}
	atomic.StoreUint32(&d.bulkImportActive, v)
}

func (d *Downloader) bulkImportIsActive() bool {
	return atomic.LoadUint32(&d.bulkImportActive) == 1
}

// QueueLen returns the number of DownloadCells currently in flight or queued.
func (d *Downloader) QueueLen() int { return len(d.downloadQueue) }

// PeerCount returns the number of registered peers.
func (d *Downloader) PeerCount() int { return d.peers.len() }

// TotalDownloading returns the global in-flight request count.
func (d *Downloader) TotalDownloading() int { return d.peers.total }

// WakeCh is signaled whenever the worker pool finishes a PoW check. The
// owning event loop selects on it and calls OnIdle, per spec.md §4.4/§5.
func (d *Downloader) WakeCh() <-chan struct{} { return d.worker.WakeCh() }

// ---- connect / disconnect lifecycle (spec.md §4.1) ----

// OnConnect registers an outbound peer and triggers reconciliation.
// Incoming peers and peers on any protocol version other than 1 are
// ignored, per spec.md §6 ("this module acts only on version 1").
func (d *Downloader) OnConnect(p Peer) {
	if p.IsIncoming() || p.Version() != 1 {
		return
	}
	d.peers.add(p)
	if p.LastReceivedSyncData().TopID == d.store.TipID() {
		d.syncTransactions(p)
	}
	d.advanceDownload()
}

// OnDisconnect unregisters a peer, reclaims any cells it held, and
// clears the chain planner if it was the elected source.
func (d *Downloader) OnDisconnect(p Peer) {
	if p.IsIncoming() {
		return
	}
	id := p.ID()
	d.peers.remove(id) // panics on invariant breach, per spec.md §4.1/§7

	for _, c := range d.downloadQueue {
		if c.Status() == statusDownloading && c.HasClient() && c.DownloadingClient == id {
			c.clearClient()
		}
	}

	if d.chain.hasClient && d.chain.client == id {
		d.cancelChainTimer()
		d.chain.hasClient = false
		d.chain.client = ""
	}

	d.advanceDownload()
}

// ---- messages ----

// OnMsgNotifyRequestChain handles a RESPONSE_CHAIN from who.
func (d *Downloader) OnMsgNotifyRequestChain(who Peer, startHeight Height, ids []Hash) {
	d.handleChainResponse(who, startHeight, ids)
}

// OnMsgTimedSync handles a periodic CORE_SYNC_DATA gossip message by
// simply re-running reconciliation (spec.md §2).
func (d *Downloader) OnMsgTimedSync() {
	d.advanceDownload()
}

// OnMsgNotifyRequestObjects handles a RESPONSE_GET_OBJECTS message: for
// each returned raw block, find its matching cell, transition it, and
// either verify synchronously or submit it to the worker pool — spec.md
// §4.4.
func (d *Downloader) OnMsgNotifyRequestObjects(who Peer, blocks []RawBlock, decodeHeader func(RawBlock) (Hash, error)) {
	for _, rb := range blocks {
		bid, err := decodeHeader(rb)
		if err != nil {
			d.logger.Error("failed to parse returned block, banning", "peer", who.Address(), "err", err)
			who.Disconnect("")
			break
		}

		cell := d.findDownloadingCellFrom(who.ID(), bid)
		if cell == nil {
			d.logger.Error("received stray block, banning", "peer", who.Address())
			who.Disconnect("")
			break
		}

		cell.advanceToDownloaded(rb)
		d.peers.decr(who.ID())
		d.peers.recordDownload(who.ID())
		d.metrics.BlocksReceived.Inc()

		d.rateLimitedLog(&d.lastResponseLog, "received block",
			"height", cell.ExpectedHeight, "queue", d.peers.total, "peer", who.Address())

		verifyPow := !d.store.InCheckpointZone(cell.ExpectedHeight)
		if d.cfg.WorkerCount > 0 {
			cell.advanceToPreparing()
			d.worker.submit(cell.Bid, cell.ExpectedHeight, verifyPow, cell.RB)
		} else {
			d.prepareSynchronously(cell, verifyPow)
		}
	}
	d.advanceDownload()
}

func (d *Downloader) prepareSynchronously(cell *DownloadCell, verifyPow bool) {
	verifier := d.worker.pow()
	pb, err := verifier.Prepare(cell.Bid, cell.ExpectedHeight, cell.RB, verifyPow)
	if err != nil {
		d.logger.Error("synchronous block preparation failed", "bid", cell.Bid, "err", err)
	}
	cell.advanceToPrepared(pb)
}

func (d *Downloader) findDownloadingCellFrom(who PeerID, bid Hash) *DownloadCell {
	for _, c := range d.downloadQueue {
		if c.Status() == statusDownloading && c.HasClient() && c.DownloadingClient == who && c.Bid == bid {
			return c
		}
	}
	return nil
}

// ---- reconciliation ----

// advanceDownload is the single fixed-point reconciliation routine every
// entry point funnels into (spec.md §9 "Reconciliation as a fixed
// point"). It is idempotent: calling it twice with no intervening event
// produces the same state and the same outbound messages as calling it
// once.
func (d *Downloader) advanceDownload() {
	if d.bulkImportIsActive() || d.store.TipHeight() < d.store.InternalImportKnownHeight() {
		return
	}

	d.promote()
	d.electChainPeer()
	d.assign()
	d.enforceSlackerPolicy()

	d.metrics.QueueDepth.Set(float64(len(d.downloadQueue)))
	d.metrics.InFlight.Set(float64(d.peers.total))
}

// ---- idle drain (spec.md §4.4) ----

// OnIdle is invoked by the event loop after a worker wake-up (or on any
// idle tick). It returns true if the head cell is still PREPARED,
// requesting another idle tick.
func (d *Downloader) OnIdle() bool {
	for bid, res := range d.worker.drainCompleted() {
		cell := d.findPreparingCell(bid)
		if cell == nil {
			continue
		}
		if res.err != nil {
			d.logger.Error("block verification failed", "bid", bid, "err", res.err)
		}
		cell.advanceToPrepared(res.pb)
	}

	start := d.clock.Now()
	drained := 0
	for len(d.downloadQueue) > 0 && d.downloadQueue[0].Status() == statusPrepared {
		cell := d.downloadQueue[0]
		action, _, err := d.store.AddBlock(cell.PB)
		if err != nil {
			d.logger.Error("add_block error", "height", cell.ExpectedHeight, "bid", cell.Bid, "err", err)
		} else if action == ActionBan {
			d.logger.Error("DownloadCell BAN", "height", cell.ExpectedHeight, "bid", cell.Bid)
			if d.cfg.BanPlannerOnFailedAdd {
				d.banBidSource(cell.BidSource)
			}
		}
		d.downloadQueue = d.downloadQueue[1:]
		drained++
		d.metrics.BlocksDrained.Inc()

		if d.clock.Now().Sub(start) > d.cfg.IdleDrainBudget {
			break // let other event-loop work run; the rest drains next tick
		}
	}

	if drained > 0 {
		if d.onBlocksDrained != nil {
			d.onBlocksDrained()
		}
		d.advanceDownload()
		if len(d.downloadQueue) == 0 {
			d.syncTransactionsWithTipPeer()
		}
	}

	return len(d.downloadQueue) > 0 && d.downloadQueue[0].Status() == statusPrepared
}

func (d *Downloader) findPreparingCell(bid Hash) *DownloadCell {
	for _, c := range d.downloadQueue {
		if c.Status() == statusPreparing && c.Bid == bid {
			return c
		}
	}
	return nil
}

func (d *Downloader) banBidSource(address string) {
	for _, p := range d.peers.peers {
		if p.Address() == address {
			d.peerDB.DelayConnectionAttempt(address, d.clock.Now())
			p.Disconnect("")
			return
		}
	}
}

func (d *Downloader) syncTransactionsWithTipPeer() {
	for _, p := range d.peers.peers {
		if p.LastReceivedSyncData().TopID == d.store.TipID() {
			d.syncTransactions(p)
			return
		}
	}
}

func (d *Downloader) syncTransactions(p Peer) {
	d.logger.Debug("sync_transactions", "peer", p.Address())
	// Transaction mempool sync is an explicit Non-goal (spec.md §1);
	// this hook exists so an embedder can wire its own mempool gossip.
}

// ---- timers ----

func (d *Downloader) armChainTimer() {
	if d.chainTimer != nil {
		d.chainTimer.Stop()
	}
	d.chainTimer = d.clock.AfterFunc(d.cfg.SyncTimeout, d.onChainTimer)
}

func (d *Downloader) cancelChainTimer() {
	if d.chainTimer != nil {
		d.chainTimer.Stop()
		d.chainTimer = nil
	}
}

func (d *Downloader) armDownloadTimer() {
	if d.downloadTimer != nil {
		d.downloadTimer.Reset(d.cfg.SyncTimeout / 8)
		return
	}
	d.downloadTimer = d.clock.AfterFunc(d.cfg.SyncTimeout/8, d.onDownloadTimer)
}

// ---- outbound messages ----

func (d *Downloader) sendRequestChain(p Peer, locator []Hash) {
	d.sendRequestChainFn(p, locator)
}

func (d *Downloader) sendRequestGetObjects(p Peer, bid Hash) {
	d.sendRequestGetObjectsFn(p, bid)
}

func (d *Downloader) defaultSendRequestChain(p Peer, locator []Hash) {
	b, err := defaultCodec.EncodeRequestChain(wirecodec.RequestChain{BlockIDs: locator})
	if err != nil {
		d.logger.Error("encode request_chain", "err", err)
		return
	}
	p.Send(b)
}

func (d *Downloader) defaultSendRequestGetObjects(p Peer, bid Hash) {
	b, err := defaultCodec.EncodeRequestGetObjects(wirecodec.RequestGetObjects{BlockID: bid})
	if err != nil {
		d.logger.Error("encode request_get_objects", "err", err)
		return
	}
	p.Send(b)
}

// rateLimitedLog throttles a progress log line to at most once per
// second, matching original_source/.../NodeDownloader.cpp's
// log_request_timestamp/log_response_timestamp behavior (SPEC_FULL.md §12).
func (d *Downloader) rateLimitedLog(last *time.Time, msg string, keyvals ...interface{}) {
	now := d.clock.Now()
	if now.Sub(*last) <= time.Second {
		return
	}
	*last = now
	d.logger.Info(msg, keyvals...)
}
