// Package netpeer provides a concrete, net.Conn-backed blocksync.Peer.
// It is supplemental reference wiring (SPEC_FULL.md §12): spec.md §6
// leaves the transport as an external collaborator, and a real deployment
// would plug in its own p2p stack the way
// _examples/tendermint-tendermint/internal/p2p does. The node uses it
// only for connections it accepts; it does not dial out.
package netpeer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/jetcash/jetcash/internal/blocksync"
	"github.com/jetcash/jetcash/internal/log"
)

const maxFrameSize = 32 << 20 // 32MiB, generous ceiling for a RESPONSE_GET_OBJECTS batch

// Peer wraps a TCP connection as a blocksync.Peer. Sends are
// best-effort, matching spec.md §5's non-blocking Send contract: a frame
// that finds the outbound queue full is logged and dropped, and a write
// or flush error disconnects the peer.
type Peer struct {
	logger log.Logger

	id         blocksync.PeerID
	address    string
	incoming   bool
	version    int

	conn net.Conn
	out  chan []byte

	mu       sync.RWMutex
	syncData blocksync.SyncData

	closed int32
	done   chan struct{}
}

// New wraps conn as a Peer with the given identity. outboundQueue bounds
// how many unsent frames may queue before Send starts dropping.
func New(logger log.Logger, conn net.Conn, id blocksync.PeerID, address string, incoming bool, version int, outboundQueue int) *Peer {
	p := &Peer{
		logger:   logger,
		id:       id,
		address:  address,
		incoming: incoming,
		version:  version,
		conn:     conn,
		out:      make(chan []byte, outboundQueue),
		done:     make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *Peer) ID() blocksync.PeerID { return p.id }
func (p *Peer) Address() string      { return p.address }
func (p *Peer) IsIncoming() bool     { return p.incoming }
func (p *Peer) Version() int         { return p.version }

// LastReceivedSyncData implements blocksync.Peer.
func (p *Peer) LastReceivedSyncData() blocksync.SyncData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.syncData
}

// SetLastReceivedSyncData records the peer's most recently advertised
// chain summary; called by the reader loop on every TimedSync message.
func (p *Peer) SetLastReceivedSyncData(sd blocksync.SyncData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncData = sd
}

// Send implements blocksync.Peer: non-blocking, best-effort.
func (p *Peer) Send(envelope []byte) {
	if atomic.LoadInt32(&p.closed) == 1 {
		return
	}
	select {
	case p.out <- envelope:
	default:
		p.logger.Error("outbound queue full, dropping frame", "peer", p.address)
	}
}

// Disconnect implements blocksync.Peer.
func (p *Peer) Disconnect(reason string) {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	if reason != "" {
		p.logger.Info("disconnecting peer", "peer", p.address, "reason", reason)
	}
	close(p.done)
	_ = p.conn.Close()
}

func (p *Peer) writeLoop() {
	w := bufio.NewWriter(p.conn)
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.out:
			if err := writeFrame(w, frame); err != nil {
				p.logger.Error("write frame", "peer", p.address, "err", err)
				p.Disconnect("write error")
				return
			}
			if err := w.Flush(); err != nil {
				p.logger.Error("flush", "peer", p.address, "err", err)
				p.Disconnect("write error")
				return
			}
		}
	}
}

// ReadLoop blocks reading length-prefixed frames from the connection and
// invokes onFrame for each. It returns when the connection closes or
// errors. The caller runs this in its own goroutine per peer.
func (p *Peer) ReadLoop(onFrame func([]byte)) error {
	r := bufio.NewReader(p.conn)
	for {
		frame, err := readFrame(r)
		if err != nil {
			p.Disconnect("read error")
			return err
		}
		onFrame(frame)
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("netpeer: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
