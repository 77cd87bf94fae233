// Package node wires the downloader subsystem together with its
// reference collaborators (chainstore, peerdb, powverify) and a
// listening socket, the way
// _examples/tendermint-tendermint/node/node.go assembles its reactors
// around a single long-lived Node object.
package node

import (
	"context"
	"fmt"
	"net"

	"github.com/jetcash/jetcash/config"
	"github.com/jetcash/jetcash/internal/blockhash"
	"github.com/jetcash/jetcash/internal/blocksync"
	"github.com/jetcash/jetcash/internal/chainstore"
	"github.com/jetcash/jetcash/internal/log"
	"github.com/jetcash/jetcash/internal/netpeer"
	"github.com/jetcash/jetcash/internal/peerdb"
	"github.com/jetcash/jetcash/internal/powverify"
	"github.com/jetcash/jetcash/internal/wirecodec"
	"github.com/prometheus/client_golang/prometheus"
)

// Node bundles a Downloader with the listener and reference stores that
// back it for a standalone run of jetcashd.
type Node struct {
	logger log.Logger
	cfg    *config.Config

	Downloader *blocksync.Downloader
	Store      *chainstore.Store
	PeerDB     *peerdb.DB

	listener net.Listener
	codec    wirecodec.Codec

	nextPeerID int
}

// New constructs a Node from cfg. genesis seeds the in-memory chain
// store; a real deployment would load this from disk instead.
func New(logger log.Logger, cfg *config.Config, genesis blockhash.Hash, checkpointHeight blocksync.Height) *Node {
	store := chainstore.New(genesis, checkpointHeight)
	pdb := peerdb.New(cfg.Sync.SyncTimeout())

	dcfg := blocksync.Config{
		SyncTimeout:           cfg.Sync.SyncTimeout(),
		GoodLag:               cfg.Sync.GoodLag,
		TotalDownloadBlocks:   cfg.Sync.TotalDownloadBlocks,
		TotalDownloadWindow:   cfg.Sync.TotalDownloadWindow,
		IdleDrainBudget:       cfg.Sync.IdleDrainBudget(),
		WorkerCount:           cfg.Sync.WorkerCount,
		BanPlannerOnFailedAdd: cfg.Sync.BanPlannerOnFailedAdd,
	}
	if dcfg.WorkerCount == 0 {
		dcfg = withDefaultWorkerCount(dcfg)
	}

	metrics := blocksync.NewMetrics(prometheus.DefaultRegisterer)
	dl := blocksync.NewDownloader(logger, dcfg, store, pdb, blocksync.NewRealClock(), powverify.New, metrics)

	return &Node{
		logger:     logger,
		cfg:        cfg,
		Downloader: dl,
		Store:      store,
		PeerDB:     pdb,
		codec:      wirecodec.NewCodec(),
	}
}

func withDefaultWorkerCount(c blocksync.Config) blocksync.Config {
	d := blocksync.DefaultConfig()
	c.WorkerCount = d.WorkerCount
	return c
}

// Start opens the listener, begins accepting peers, and starts the
// downloader's worker pool.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Downloader.Start(ctx); err != nil {
		return fmt.Errorf("node: start downloader: %w", err)
	}

	addr, err := parseListenAddress(n.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("node: listen %s: %w", addr, err)
	}
	n.listener = ln
	n.logger.Info("listening for peers", "address", addr)

	go n.acceptLoop()
	go n.idleLoop(ctx)
	return nil
}

// idleLoop is the event loop's idle callback, driven by the worker
// pool's wake signal: drain every PREPARED cell it can reach before
// going back to sleep, per spec.md §4.4/§5.
func (n *Node) idleLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.Downloader.WakeCh():
			n.drainIdle()
		}
	}
}

func (n *Node) drainIdle() {
	for n.Downloader.OnIdle() {
	}
}

// Stop closes the listener and stops the downloader.
func (n *Node) Stop() error {
	if n.listener != nil {
		_ = n.listener.Close()
	}
	return n.Downloader.Stop()
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			return // listener closed on shutdown
		}
		n.nextPeerID++
		id := blocksync.PeerID(fmt.Sprintf("peer-%d", n.nextPeerID))
		p := netpeer.New(n.logger, conn, id, conn.RemoteAddr().String(), true, 1, 256)
		n.Downloader.OnConnect(p)
		n.drainIdle()
		go n.readLoop(p)
	}
}

func (n *Node) readLoop(p *netpeer.Peer) {
	defer func() {
		n.Downloader.OnDisconnect(p)
		n.drainIdle()
	}()
	_ = p.ReadLoop(func(frame []byte) {
		n.handleFrame(p, frame)
	})
}

func (n *Node) handleFrame(p *netpeer.Peer, frame []byte) {
	env, err := n.codec.DecodeEnvelope(frame)
	if err != nil {
		n.logger.Error("decode envelope", "peer", p.Address(), "err", err)
		return
	}
	switch env.Command {
	case wirecodec.CmdResponseChain:
		msg, err := n.codec.DecodeResponseChain(env.Payload)
		if err != nil {
			return
		}
		n.Downloader.OnMsgNotifyRequestChain(p, blocksync.Height(msg.StartHeight), msg.BlockIDs)
	case wirecodec.CmdResponseGetObjects:
		msg, err := n.codec.DecodeResponseGetObjects(env.Payload)
		if err != nil {
			return
		}
		blocks := make([]blocksync.RawBlock, len(msg.Blocks))
		for i, b := range msg.Blocks {
			blocks[i] = blocksync.RawBlock{Block: b.Block, Transactions: b.Transactions}
		}
		n.Downloader.OnMsgNotifyRequestObjects(p, blocks, decodeBlockHeader)
	case wirecodec.CmdTimedSync:
		msg, err := n.codec.DecodeTimedSync(env.Payload)
		if err != nil {
			return
		}
		p.SetLastReceivedSyncData(blocksync.SyncData{TopID: msg.TopID, CurrentHeight: blocksync.Height(msg.CurrentHeight)})
		n.Downloader.OnMsgTimedSync()
	}
	n.drainIdle()
}

// decodeBlockHeader is a placeholder header parser: the real one would
// come from the block-serialization format, which is out of scope here
// (spec.md §1 Non-goals). It uses the double SHA-256 of the raw block
// bytes as the block id.
func decodeBlockHeader(rb blocksync.RawBlock) (blocksync.Hash, error) {
	return blockhash.FromBytes(rb.Block)
}

func parseListenAddress(addr string) (string, error) {
	const prefix = "tcp://"
	if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
		return addr[len(prefix):], nil
	}
	return addr, nil
}
