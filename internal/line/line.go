// Package line implements the core ownership model of spec.md §3: Process,
// Line, Connection, and the fixed-slot dispatcher hook surface they
// publish to. Mutation is confined to the single I/O goroutine that calls
// Process.Run; the only other reader is the management surface, reading
// the atomic counters on Connection.Stats.
package line

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/csfeeds/feedhandler/internal/gaplist"
	"github.com/csfeeds/feedhandler/internal/ordertable"
	"github.com/csfeeds/feedhandler/internal/symboltable"
)

// ErrEndOfSession is returned by a Parser to signal that it has observed
// a transport-level end-of-session marker (spec.md §4.6's
// Streaming->EndOfSession transition for Venue C). Parsers that
// reassemble partial reads (internal/asciisession) detect the marker
// only once it is fully reassembled, which may span more than one
// Parser invocation; returning this sentinel lets the caller react to
// the transition regardless of how the marker was chunked across reads.
var ErrEndOfSession = errors.New("line: end of session marker observed")

// Socket is the minimal read surface a Connection needs from the
// transport. net.Conn (TCP) and *net.UDPConn (multicast UDP), which
// internal/mcast returns unwrapped, satisfy it directly; keeping the
// interface this narrow means line never imports net.
type Socket interface {
	SetReadDeadline(t time.Time) error
	Read(p []byte) (int, error)
	Close() error
}

// Identity names which leg of a Line a Connection represents.
type Identity string

const (
	Primary   Identity = "primary"
	Secondary Identity = "secondary"
	Session   Identity = "session" // TCP-only request/session connection
)

// ConnStats holds the per-connection counters of spec.md §3. They are
// atomic.Uint64 rather than plain integers because the I/O thread writes
// them while the management thread reads them concurrently; spec.md §5
// only requires readers tolerate staleness, not torn reads, which plain
// uint64 cannot guarantee in Go without a race.
type ConnStats struct {
	Packets           atomic.Uint64
	Messages          atomic.Uint64
	Bytes             atomic.Uint64
	PacketErrors      atomic.Uint64
	MessageErrors     atomic.Uint64
	DuplicatePackets  atomic.Uint64
	Gaps              atomic.Uint64
	LostMessages      atomic.Uint64
	RecoveredMessages atomic.Uint64
}

// StatsSnapshot is a point-in-time, non-atomic copy of ConnStats suitable
// for the management surface's StatsResp (spec.md §4.8, §6).
type StatsSnapshot struct {
	Packets           uint64
	Messages          uint64
	Bytes             uint64
	PacketErrors      uint64
	MessageErrors     uint64
	DuplicatePackets  uint64
	Gaps              uint64
	LostMessages      uint64
	RecoveredMessages uint64
}

// Snapshot reads every counter once. Individual counters may be
// momentarily inconsistent with one another; spec.md §4.8 accepts this.
func (s *ConnStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Packets:           s.Packets.Load(),
		Messages:          s.Messages.Load(),
		Bytes:             s.Bytes.Load(),
		PacketErrors:      s.PacketErrors.Load(),
		MessageErrors:     s.MessageErrors.Load(),
		DuplicatePackets:  s.DuplicatePackets.Load(),
		Gaps:              s.Gaps.Load(),
		LostMessages:      s.LostMessages.Load(),
		RecoveredMessages: s.RecoveredMessages.Load(),
	}
}

// Clear zeros every counter, matching clear_stats() (spec.md §4.8).
func (s *ConnStats) Clear() {
	s.Packets.Store(0)
	s.Messages.Store(0)
	s.Bytes.Store(0)
	s.PacketErrors.Store(0)
	s.MessageErrors.Store(0)
	s.DuplicatePackets.Store(0)
	s.Gaps.Store(0)
	s.LostMessages.Store(0)
	s.RecoveredMessages.Store(0)
}

// Parser decodes one packet (Venue A/B) or the newly-available byte range
// of a stream (Venue C) and applies its side effects. Implementations
// live in internal/pitch, internal/moldudp64, and internal/asciisession;
// line itself has no notion of venue wire formats, matching spec.md
// §4.4's "parsers are stateless, state lives in Line/Connection/tables".
type Parser func(data []byte, ln *Line, conn *Connection, hooks *Hooks, now time.Time) error

// Connection is one socket leg of a Line (spec.md §3).
type Connection struct {
	ID       xid.ID // correlation id for log fields and the management surface
	Socket   Socket
	Identity Identity
	Parser   Parser

	LastRecv time.Time
	Stats    ConnStats
	Context  any

	readBuf []byte
}

// NewConnection wraps sock with a fixed read buffer sized for one
// datagram (Venue A/B) or one read syscall's worth of stream bytes
// (Venue C, which reassembles across calls in internal/asciisession).
func NewConnection(identity Identity, sock Socket, parser Parser, bufSize int) *Connection {
	return &Connection{
		ID:       xid.New(),
		Socket:   sock,
		Identity: identity,
		Parser:   parser,
		readBuf:  make([]byte, bufSize),
	}
}

// pollOnce sets a short read deadline and attempts one read, emulating
// the readiness-wait step of spec.md §4.7 without an OS-level multiplexer
// across heterogeneous Socket implementations. A deadline timeout is not
// an error; it means the socket had nothing ready this tick.
func (c *Connection) pollOnce(deadline time.Duration, ln *Line, hooks *Hooks, now time.Time) (read bool, err error) {
	if c == nil || c.Socket == nil {
		return false, nil
	}
	if err := c.Socket.SetReadDeadline(now.Add(deadline)); err != nil {
		return false, err
	}
	n, err := c.Socket.Read(c.readBuf)
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return false, nil
		}
		if err == io.EOF {
			return false, err
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	c.LastRecv = now
	c.Stats.Packets.Add(1)
	c.Stats.Bytes.Add(uint64(n))
	if c.Parser != nil {
		if perr := c.Parser(c.readBuf[:n], ln, c, hooks, now); perr != nil {
			c.Stats.PacketErrors.Add(1)
			return true, perr
		}
	}
	return true, nil
}

// Line owns one logical feed: a next-expected sequence number and up to
// three Connections (spec.md §3).
type Line struct {
	Name          string
	NextSeq       uint64
	TimestampBase time.Time

	Primary   *Connection
	Secondary *Connection
	Session   *Connection // TCP request/session connection, nil for multicast venues

	mu sync.Mutex
}

// NewLine creates a Line with next_seq_no initialized to 1 per spec.md §3.
func NewLine(name string) *Line {
	return &Line{Name: name, NextSeq: 1}
}

// ResetSequence sets next_seq_no back to 1, as required on TCP
// end-of-session or a binary end-of-session indicator (spec.md §3).
func (l *Line) ResetSequence() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.NextSeq = 1
}

// Connections returns every non-nil Connection owned by the Line, in a
// stable order (primary, secondary, session).
func (l *Line) Connections() []*Connection {
	conns := make([]*Connection, 0, 3)
	for _, c := range []*Connection{l.Primary, l.Secondary, l.Session} {
		if c != nil {
			conns = append(conns, c)
		}
	}
	return conns
}

// ProcessStats holds process-level stats: the start time get_status()
// reports uptime from (spec.md §4.8). Per-connection counters live in
// each Connection's ConnStats.
type ProcessStats struct {
	StartTime time.Time
}

// Process owns every Line, the shared SymbolTable/OrderTable/GapList, and
// process-level aggregate stats (spec.md §3's ownership summary: "Process
// exclusively owns Lines, tables, and GapList").
type Process struct {
	ID      xid.ID // correlation id for this run, surfaced by get_status()
	Name    string
	Lines   []*Line
	Symbols *symboltable.Table
	Orders  *ordertable.Table
	Gaps    *gaplist.List // nil when fill_gaps.max == 0 (gap tracking disabled)
	Stats   ProcessStats
	Context any

	Hooks *Hooks

	// PollInterval is the reader loop's wake-up cadence (reference:
	// 100ms, spec.md §4.7 step 2).
	PollInterval time.Duration

	// Commands queues work the management thread wants run on the I/O
	// thread (spec.md §4.8: "clear_stats() ... on the I/O thread or via
	// a queued request"). Run drains it once per tick.
	Commands chan func()

	exit atomic.Bool
}

// NewProcess builds a Process with a 100ms poll interval and the exit
// flag clear.
func NewProcess(name string, symbols *symboltable.Table, orders *ordertable.Table, gaps *gaplist.List, hooks *Hooks) *Process {
	return &Process{
		ID:           xid.New(),
		Name:         name,
		Symbols:      symbols,
		Orders:       orders,
		Gaps:         gaps,
		Hooks:        hooks,
		PollInterval: 100 * time.Millisecond,
		Stats:        ProcessStats{StartTime: time.Now()},
		Commands:     make(chan func(), 16),
	}
}

// Enqueue submits cmd to run on the I/O thread at the start of its next
// tick. It returns false without blocking if the queue is full.
func (p *Process) Enqueue(cmd func()) bool {
	select {
	case p.Commands <- cmd:
		return true
	default:
		return false
	}
}

func (p *Process) drainCommands() {
	for {
		select {
		case cmd := <-p.Commands:
			cmd()
		default:
			return
		}
	}
}

// Exit sets the exit flag; the I/O loop observes it on its next wake-up
// (spec.md §4.8's exit() operation).
func (p *Process) Exit() { p.exit.Store(true) }

// ExitRequested reports whether Exit has been called.
func (p *Process) ExitRequested() bool { return p.exit.Load() }

// Run is the cooperative single-threaded reader loop of spec.md §4.7: per
// tick it flushes expired gaps, polls every connection on every Line for
// available data, and invokes MsgFlush once per connection that read
// data this tick, whether or not that data yielded a record. Expired gap
// loss raises a LOSS alert; it is not added to any connection's
// LostMessages counter. It returns when ctx is cancelled or Exit is
// called.
//
// Grounded on the teacher's collector.Run: a time.Ticker-bounded loop
// that calls a periodic stats report once per cadence and otherwise
// repeats a fixed per-tick body until ctx.Err() != nil.
func (p *Process) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || p.ExitRequested() {
			return ctx.Err()
		}

		p.drainCommands()

		now := time.Now()
		if p.Gaps != nil {
			if expiredLoss := p.Gaps.Flush(now); expiredLoss > 0 {
				p.Hooks.dispatchAlert(AlertEvent{Kind: AlertLoss, Detail: "gap timeout", At: now})
			}
		}

		for _, ln := range p.Lines {
			for _, conn := range ln.Connections() {
				read, err := conn.pollOnce(p.PollInterval, ln, p.Hooks, now)
				if err != nil {
					conn.Stats.PacketErrors.Add(1)
				}
				if read {
					p.Hooks.dispatchMsgFlush(conn)
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
