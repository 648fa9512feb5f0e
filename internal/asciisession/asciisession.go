// Package asciisession implements the Venue C ASCII TCP streaming parser
// of spec.md §4.4/§4.6: LF-terminated, fixed-offset records reassembled
// across reader invocations because the transport is byte-stream, not
// packet-aligned.
//
// The reassembly buffer is the Go-native analogue of the original's
// fh_shr_tcp_lh.c byte-accumulation state and is shaped like the
// teacher's eventsocket connection-scoped read loop, but framed by LF
// instead of datagram boundaries. Record field widths are drawn from
// original_source's fh_edge_msg.h (order_ref[12], security[6],
// match_number[21]).
package asciisession

import (
	"bytes"
	"errors"
	"time"

	"github.com/csfeeds/feedhandler/internal/gaplist"
	"github.com/csfeeds/feedhandler/internal/line"
	"github.com/csfeeds/feedhandler/internal/ordertable"
	"github.com/csfeeds/feedhandler/internal/sequence"
	"github.com/csfeeds/feedhandler/internal/symboltable"
	"github.com/csfeeds/feedhandler/internal/wire"
)

const bandOffset = 0x0200

// Record type letters, occupying a band disjoint from internal/pitch and
// internal/moldudp64.
const (
	AddOrder             line.RecordKind = bandOffset + line.RecordKind('A')
	OrderExecuted        line.RecordKind = bandOffset + line.RecordKind('E')
	OrderExecutedAtPrice line.RecordKind = bandOffset + line.RecordKind('Q')
	ReduceSize           line.RecordKind = bandOffset + line.RecordKind('R')
	ModifyOrder          line.RecordKind = bandOffset + line.RecordKind('M')
	DeleteOrder          line.RecordKind = bandOffset + line.RecordKind('D')
	Trade                line.RecordKind = bandOffset + line.RecordKind('T')
	TradeBreak           line.RecordKind = bandOffset + line.RecordKind('B')
)

const (
	orderRefLen   = 12
	securityLen   = 6
	matchNumLen   = 21
	seqFieldLen   = 10
	shareFieldLen = 6
	priceFieldLen = 10
)

// fieldLen is the fixed byte width of the per-type field block that
// follows the 10-digit sequence number in a sequenced data record.
var fieldLen = map[line.RecordKind]int{
	AddOrder:             orderRefLen + 1 + shareFieldLen + securityLen + priceFieldLen + 1 + 4,
	OrderExecuted:        orderRefLen + shareFieldLen + matchNumLen,
	OrderExecutedAtPrice: orderRefLen + shareFieldLen + priceFieldLen + matchNumLen,
	ReduceSize:           orderRefLen + shareFieldLen,
	ModifyOrder:          orderRefLen + shareFieldLen + priceFieldLen,
	DeleteOrder:          orderRefLen,
	Trade:                orderRefLen + 1 + shareFieldLen + securityLen + priceFieldLen + matchNumLen,
	TradeBreak:           matchNumLen,
}

var (
	ErrUnknownType       = errors.New("asciisession: unknown sequenced record type")
	ErrRecordTooShort    = errors.New("asciisession: sequenced record shorter than field width")
	ErrMalformedEnvelope = errors.New("asciisession: malformed sequenced envelope")
)

// Reassembler accumulates bytes across Feed calls and yields complete
// LF-terminated lines, buffering any trailing partial line for the next
// call. Not safe for concurrent use; one Reassembler per Connection,
// confined to the I/O thread per spec.md §5.
type Reassembler struct {
	buf bytes.Buffer
}

// Feed appends data and returns every complete line extracted from the
// accumulated buffer, LF stripped. Any bytes after the last LF remain
// buffered.
func (r *Reassembler) Feed(data []byte) [][]byte {
	r.buf.Write(data)
	var lines [][]byte
	for {
		b := r.buf.Bytes()
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, b[:i])
		lines = append(lines, line)
		r.buf.Next(i + 1)
	}
	return lines
}

// AddOrderView is the decoded view for AddOrder records.
type AddOrderView struct {
	OrderRef string
	Side     ordertable.Side
	Shares   uint32
	Security [6]byte
	Price    uint64
}

// NewParser builds a line.Parser closure that reassembles the byte
// stream per Connection and dispatches complete records. gaps may be
// nil when gap tracking is disabled.
func NewParser(symbols *symboltable.Table, orders *ordertable.Table, gaps *gaplist.List) line.Parser {
	var engine sequence.Engine
	reassemblers := make(map[*line.Connection]*Reassembler)

	return func(data []byte, ln *line.Line, conn *line.Connection, hooks *line.Hooks, now time.Time) error {
		r, ok := reassemblers[conn]
		if !ok {
			r = &Reassembler{}
			reassemblers[conn] = r
		}
		for _, rec := range r.Feed(data) {
			err := processLine(rec, symbols, orders, gaps, &engine, ln, conn, hooks, now)
			if errors.Is(err, line.ErrEndOfSession) {
				delete(reassemblers, conn)
				return line.ErrEndOfSession
			}
			if err != nil {
				conn.Stats.MessageErrors.Add(1)
			}
		}
		return nil
	}
}

func processLine(rec []byte, symbols *symboltable.Table, orders *ordertable.Table, gaps *gaplist.List, engine *sequence.Engine, ln *line.Line, conn *line.Connection, hooks *line.Hooks, now time.Time) error {
	if len(rec) == 0 {
		return nil
	}

	switch {
	case rec[0] == '+':
		return nil // debug/spin/refresh-request lines are consumed and ignored

	case rec[0] == 'H':
		conn.LastRecv = now
		return nil

	case rec[0] == 'S' && len(rec) == 1:
		// The session engine owns the Streaming->EndOfSession transition
		// (ResetSequence, AlertSessionTerminated); it may observe this
		// marker split across more than one read, so detection has to
		// happen here, after reassembly, rather than on a single read's
		// raw bytes.
		return line.ErrEndOfSession

	case rec[0] == 'S':
		return processSequencedRecord(rec, symbols, orders, gaps, engine, ln, conn, hooks, now)

	default:
		return ErrMalformedEnvelope
	}
}

func processSequencedRecord(rec []byte, symbols *symboltable.Table, orders *ordertable.Table, gaps *gaplist.List, engine *sequence.Engine, ln *line.Line, conn *line.Connection, hooks *line.Hooks, now time.Time) error {
	if len(rec) < 2+seqFieldLen {
		return ErrMalformedEnvelope
	}
	kind := line.RecordKind(bandOffset) + line.RecordKind(rec[1])
	wantFieldLen, known := fieldLen[kind]
	if !known {
		return ErrUnknownType
	}
	fields := rec[2+seqFieldLen:]
	if len(fields) != wantFieldLen {
		return ErrRecordTooShort
	}
	seq := wire.ASCIIAtoi(rec[2 : 2+seqFieldLen])

	res := engine.Accept(ln.NextSeq, seq, gaps, now)
	switch res.Outcome {
	case sequence.Duplicate:
		conn.Stats.DuplicatePackets.Add(1)
	case sequence.ForwardGap:
		conn.Stats.Gaps.Add(1)
		if res.NewGapLoss > 0 {
			conn.Stats.LostMessages.Add(res.NewGapLoss)
			hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertLoss, Line: ln, Conn: conn, At: now})
		}
		if res.GapAlert {
			hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertGap, Line: ln, Conn: conn, At: now})
		}
		applyRecord(orders, symbols, kind, fields, ln, conn, hooks, seq)
		conn.Stats.Messages.Add(1)
	case sequence.GapFill:
		if res.FillLoss > 0 {
			conn.Stats.LostMessages.Add(res.FillLoss)
		}
		conn.Stats.RecoveredMessages.Add(1)
		if res.LossAlert {
			hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertLoss, Line: ln, Conn: conn, At: now})
		}
		applyRecord(orders, symbols, kind, fields, ln, conn, hooks, seq)
		conn.Stats.Messages.Add(1)
		if res.NoGapAlert {
			hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertNoGap, Line: ln, Conn: conn, At: now})
		}
	default:
		applyRecord(orders, symbols, kind, fields, ln, conn, hooks, seq)
		conn.Stats.Messages.Add(1)
	}
	ln.NextSeq = res.NewExpected
	return nil
}

func applyRecord(orders *ordertable.Table, symbols *symboltable.Table, kind line.RecordKind, fields []byte, ln *line.Line, conn *line.Connection, hooks *line.Hooks, seq uint64) {
	var decoded any
	var entry *ordertable.Entry

	switch kind {
	case AddOrder:
		ref := string(fields[0:orderRefLen])
		side := ordertable.Side(fields[orderRefLen])
		shares := uint32(wire.ASCIIAtoi(fields[orderRefLen+1 : orderRefLen+1+shareFieldLen]))
		var sec [6]byte
		copy(sec[:], fields[orderRefLen+1+shareFieldLen:orderRefLen+1+shareFieldLen+securityLen])
		price := wire.ASCIIPrice10(fields[orderRefLen+1+shareFieldLen+securityLen : orderRefLen+1+shareFieldLen+securityLen+priceFieldLen])

		var sym *symboltable.Entry
		if symbols != nil {
			sym = symbols.GetOrInsert(symboltable.NewKey(string(sec[:])))
		}
		key := ordertable.RefKey(ref)
		if orders != nil {
			entry, _ = orders.Insert(&ordertable.Entry{Key: key, Shares: shares, Price: price, Side: side, Stock: sec, Symbol: sym})
		}
		decoded = AddOrderView{OrderRef: ref, Side: side, Shares: shares, Security: sec, Price: price}

	case OrderExecuted:
		ref := string(fields[0:orderRefLen])
		shares := uint32(wire.ASCIIAtoi(fields[orderRefLen : orderRefLen+shareFieldLen]))
		if orders != nil {
			entry, _, _, _ = orders.Execute(ordertable.RefKey(ref), shares)
		}
		decoded = struct {
			OrderRef string
			Shares   uint32
		}{ref, shares}

	case OrderExecutedAtPrice:
		ref := string(fields[0:orderRefLen])
		remaining := uint32(wire.ASCIIAtoi(fields[orderRefLen : orderRefLen+shareFieldLen]))
		price := wire.ASCIIPrice10(fields[orderRefLen+shareFieldLen : orderRefLen+shareFieldLen+priceFieldLen])
		if orders != nil {
			entry, _, _ = orders.ExecuteAtPrice(ordertable.RefKey(ref), remaining, price)
		}
		decoded = struct {
			OrderRef  string
			Remaining uint32
			Price     uint64
		}{ref, remaining, price}

	case ReduceSize:
		ref := string(fields[0:orderRefLen])
		shares := uint32(wire.ASCIIAtoi(fields[orderRefLen : orderRefLen+shareFieldLen]))
		if orders != nil {
			entry, _, _ = orders.ReduceSize(ordertable.RefKey(ref), shares)
		}
		decoded = struct {
			OrderRef string
			Shares   uint32
		}{ref, shares}

	case ModifyOrder:
		ref := string(fields[0:orderRefLen])
		shares := uint32(wire.ASCIIAtoi(fields[orderRefLen : orderRefLen+shareFieldLen]))
		price := wire.ASCIIPrice10(fields[orderRefLen+shareFieldLen : orderRefLen+shareFieldLen+priceFieldLen])
		if orders != nil {
			entry, _ = orders.Modify(ordertable.RefKey(ref), shares, price)
		}
		decoded = struct {
			OrderRef string
			Shares   uint32
			Price    uint64
		}{ref, shares, price}

	case DeleteOrder:
		ref := string(fields[0:orderRefLen])
		if orders != nil {
			entry, _ = orders.Delete(ordertable.RefKey(ref))
		}
		decoded = struct{ OrderRef string }{ref}

	case Trade, TradeBreak:
		decoded = struct {
			Kind line.RecordKind
			Raw  []byte
		}{kind, fields}
	}

	hooks.DispatchRecord(line.RecordView{
		Kind:    kind,
		Line:    ln,
		Conn:    conn,
		Seq:     seq,
		Raw:     fields,
		Decoded: decoded,
		Entry:   entry,
	})
}
