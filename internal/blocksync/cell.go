package blocksync

import "time"

// cellStatus is the monotonic progression of a DownloadCell, per
// spec.md §3: DOWNLOADING -> DOWNLOADED -> PREPARING -> PREPARED in
// multicore mode, or DOWNLOADING -> DOWNLOADED -> PREPARED directly
// when the worker pool is disabled.
type cellStatus int

const (
	statusDownloading cellStatus = iota
	statusDownloaded
	statusPreparing
	statusPrepared
)

func (s cellStatus) String() string {
	switch s {
	case statusDownloading:
		return "DOWNLOADING"
	case statusDownloaded:
		return "DOWNLOADED"
	case statusPreparing:
		return "PREPARING"
	case statusPrepared:
		return "PREPARED"
	default:
		return "UNKNOWN"
	}
}

// DownloadCell is one entry per block in flight or queued. See spec.md §3.
type DownloadCell struct {
	Bid            Hash
	ExpectedHeight Height
	// BidSource is the address of the peer whose chain advertised this
	// id; informational only, except when Config.BanPlannerOnFailedAdd
	// is set (SPEC_FULL.md §12, Open Question (a)).
	BidSource string

	status cellStatus

	// DownloadingClient is empty (and HasClient false) if no peer is
	// currently responsible (either never assigned, or its peer
	// disconnected mid-flight).
	DownloadingClient  PeerID
	hasClient          bool
	RequestTime        time.Time
	ProtectFromDisconnect bool

	RB RawBlock
	PB PreparedBlock
}

func newDownloadCell(bid Hash, expectedHeight Height, bidSource string) *DownloadCell {
	return &DownloadCell{
		Bid:            bid,
		ExpectedHeight: expectedHeight,
		BidSource:      bidSource,
		status:         statusDownloading,
	}
}

// Status returns the cell's current stage.
func (c *DownloadCell) Status() cellStatus { return c.status }

// IsDownloading reports whether the cell is awaiting a block response.
func (c *DownloadCell) IsDownloading() bool { return c.status == statusDownloading }

// HasClient reports whether the cell currently has an assigned peer.
func (c *DownloadCell) HasClient() bool { return c.hasClient }

func (c *DownloadCell) assignClient(id PeerID, now time.Time) {
	c.DownloadingClient = id
	c.hasClient = true
	c.RequestTime = now
}

// clearClient drops the cell's assigned peer without changing status,
// reverting it from in-flight to unassigned (spec.md §4.1 on_disconnect).
func (c *DownloadCell) clearClient() {
	c.DownloadingClient = ""
	c.hasClient = false
}

// advanceToDownloaded transitions DOWNLOADING -> DOWNLOADED, recording
// the raw block and clearing the assigned client. Panics (an internal
// invariant breach) if called out of order.
func (c *DownloadCell) advanceToDownloaded(rb RawBlock) {
	if c.status != statusDownloading {
		panic("DownloadCell: advanceToDownloaded called from " + c.status.String())
	}
	c.status = statusDownloaded
	c.clearClient()
	c.RB = rb
}

func (c *DownloadCell) advanceToPreparing() {
	if c.status != statusDownloaded {
		panic("DownloadCell: advanceToPreparing called from " + c.status.String())
	}
	c.status = statusPreparing
}

func (c *DownloadCell) advanceToPrepared(pb PreparedBlock) {
	if c.status != statusDownloaded && c.status != statusPreparing {
		panic("DownloadCell: advanceToPrepared called from " + c.status.String())
	}
	c.status = statusPrepared
	c.PB = pb
}
