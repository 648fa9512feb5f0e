// Package pitch implements the Venue A binary multicast parser of
// spec.md §4.4: a little-endian, length-prefixed record stream framed by
// a fixed 8-byte packet header.
//
// Grounded on the teacher's inetdiag.Parse/parse.ParseNetlinkMessage
// shape: validate the envelope, split header from body, walk a sequence
// of length-prefixed records, and dispatch per type into table-mutating
// handlers the way RouteAttrValue.To* conversions do for netlink
// attributes.
package pitch

import (
	"errors"
	"time"

	"github.com/csfeeds/feedhandler/internal/gaplist"
	"github.com/csfeeds/feedhandler/internal/line"
	"github.com/csfeeds/feedhandler/internal/ordertable"
	"github.com/csfeeds/feedhandler/internal/sequence"
	"github.com/csfeeds/feedhandler/internal/symboltable"
	"github.com/csfeeds/feedhandler/internal/wire"
)

// Record type bytes, used directly as line.RecordKind values since they
// are already disjoint from MoldUDP64's and ASCII session's kind bands
// (see internal/moldudp64, internal/asciisession).
const (
	Time              line.RecordKind = 0x20
	AddOrderLong      line.RecordKind = 0x21
	AddOrderShort     line.RecordKind = 0x22
	OrderExecuted     line.RecordKind = 0x23
	OrderExecAtPrice  line.RecordKind = 0x24
	ReduceSizeLong    line.RecordKind = 0x25
	ReduceSizeShort   line.RecordKind = 0x26
	ModifyOrderLong   line.RecordKind = 0x27
	ModifyOrderShort  line.RecordKind = 0x28
	DeleteOrder       line.RecordKind = 0x29
	TradeLong         line.RecordKind = 0x2A
	TradeShort        line.RecordKind = 0x2B
	TradeBreak        line.RecordKind = 0x2C
	EndOfSession      line.RecordKind = 0x2D
)

// recordPayloadSize maps a record type to its fixed payload length (the
// bytes following the length and type bytes), derived from spec.md
// §4.4's Size column: payload = size - 2.
var recordPayloadSize = map[line.RecordKind]int{
	Time:             4,
	AddOrderLong:     32,
	AddOrderShort:    24,
	OrderExecuted:    24,
	OrderExecAtPrice: 36,
	ReduceSizeLong:   16,
	ReduceSizeShort:  14,
	ModifyOrderLong:  25,
	ModifyOrderShort: 17,
	DeleteOrder:      12,
	TradeLong:        39,
	TradeShort:       31,
	TradeBreak:       12,
	EndOfSession:     4,
}

var (
	// ErrTruncatedHeader is a framing error: the packet is shorter than
	// the fixed 8-byte header, or ends before a record it declares.
	ErrTruncatedHeader = errors.New("pitch: truncated packet header")
	// ErrUnknownRecordType is a framing error: a record's type byte is
	// not in the closed catalog above.
	ErrUnknownRecordType = errors.New("pitch: unknown record type")
	// ErrRecordLengthMismatch is a framing error: a record's declared
	// length does not match its type's fixed payload size.
	ErrRecordLengthMismatch = errors.New("pitch: record length mismatch")
)

// AddOrder is the decoded view handed to the dispatcher for AddOrderLong
// and AddOrderShort records.
type AddOrder struct {
	OrderNum uint64
	Side     ordertable.Side
	Shares   uint32
	Stock    [6]byte
	Price    uint64 // normalized to 10^-4 units regardless of wire scaling
}

func readStock(buf []byte, off int) [6]byte {
	var s [6]byte
	copy(s[:], buf[off:off+6])
	return s
}

func decodeAddOrderLong(payload []byte) AddOrder {
	orderNum, _ := wire.ReadU64LE(payload, 0)
	side, _ := wire.ReadU8(payload, 8)
	shares, _ := wire.ReadU32LE(payload, 9)
	stock := readStock(payload, 13)
	price, _ := wire.ReadU64LE(payload, 19)
	return AddOrder{OrderNum: orderNum, Side: ordertable.Side(side), Shares: shares, Stock: stock, Price: price}
}

func decodeAddOrderShort(payload []byte) AddOrder {
	orderNum, _ := wire.ReadU64LE(payload, 0)
	stock := readStock(payload, 8)
	price32, _ := wire.ReadU32LE(payload, 14)
	shares16, _ := wire.ReadU16LE(payload, 18)
	side, _ := wire.ReadU8(payload, 20)
	return AddOrder{
		OrderNum: orderNum,
		Side:     ordertable.Side(side),
		Shares:   uint32(shares16),
		Stock:    stock,
		Price:    uint64(price32) * 100, // short records carry 10^-2 units
	}
}

// NewParser builds a line.Parser closure over the given tables, matching
// spec.md §4.4's "parsers are stateless with respect to the venue; all
// state lives in Line/Connection/tables/GapList". gaps may be nil when
// gap tracking is disabled for this line (fill_gaps.max == 0).
func NewParser(symbols *symboltable.Table, orders *ordertable.Table, gaps *gaplist.List) line.Parser {
	var engine sequence.Engine
	return func(data []byte, ln *line.Line, conn *line.Connection, hooks *line.Hooks, now time.Time) error {
		if len(data) < 8 {
			return ErrTruncatedHeader
		}
		msgCount, _ := wire.ReadU8(data, 2)
		seqNo32, _ := wire.ReadU32LE(data, 4)
		seqNo := uint64(seqNo32)

		if msgCount == 0 {
			ln.NextSeq = sequence.AdvanceHeartbeat(ln.NextSeq, seqNo)
			return nil
		}

		off := 8
		seq := seqNo
		for i := 0; i < int(msgCount); i++ {
			if off+2 > len(data) {
				return ErrTruncatedHeader
			}
			recLen := int(data[off]) // includes the type byte, excludes the length byte
			kind := line.RecordKind(data[off+1])
			if off+1+recLen > len(data) {
				return ErrTruncatedHeader
			}
			payload := data[off+2 : off+1+recLen]

			wantPayload, known := recordPayloadSize[kind]
			if !known {
				conn.Stats.MessageErrors.Add(1)
				return ErrUnknownRecordType
			}
			if len(payload) != wantPayload {
				conn.Stats.MessageErrors.Add(1)
				return ErrRecordLengthMismatch
			}

			if kind == Time {
				secs, _ := wire.ReadU32LE(payload, 0)
				ln.TimestampBase = now.Truncate(24 * time.Hour).Add(time.Duration(secs) * time.Second)
				conn.LastRecv = now
				conn.Stats.Messages.Add(1)
				off += 1 + recLen
				continue // Time does not consume a sequence number
			}

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
				applyRecord(orders, symbols, kind, payload, ln, conn, hooks, seq)
				conn.Stats.Messages.Add(1)
			case sequence.GapFill:
				if res.FillLoss > 0 {
					conn.Stats.LostMessages.Add(res.FillLoss)
				}
				conn.Stats.RecoveredMessages.Add(1)
				if res.LossAlert {
					hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertLoss, Line: ln, Conn: conn, At: now})
				}
				applyRecord(orders, symbols, kind, payload, ln, conn, hooks, seq)
				conn.Stats.Messages.Add(1)
				if res.NoGapAlert {
					hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertNoGap, Line: ln, Conn: conn, At: now})
				}
			default: // InOrder
				applyRecord(orders, symbols, kind, payload, ln, conn, hooks, seq)
				conn.Stats.Messages.Add(1)
			}
			ln.NextSeq = res.NewExpected

			if kind == EndOfSession {
				ln.ResetSequence()
			}

			off += 1 + recLen
			seq++
		}
		return nil
	}
}

func applyRecord(orders *ordertable.Table, symbols *symboltable.Table, kind line.RecordKind, payload []byte, ln *line.Line, conn *line.Connection, hooks *line.Hooks, seq uint64) {
	var decoded any
	var entry *ordertable.Entry

	switch kind {
	case AddOrderLong, AddOrderShort:
		var ao AddOrder
		if kind == AddOrderLong {
			ao = decodeAddOrderLong(payload)
		} else {
			ao = decodeAddOrderShort(payload)
		}
		var sym *symboltable.Entry
		if symbols != nil {
			sym = symbols.GetOrInsert(symboltable.NewKey(string(ao.Stock[:])))
		}
		if orders != nil {
			entry, _ = orders.Insert(&ordertable.Entry{
				Key:    ordertable.NumKey(ao.OrderNum),
				Shares: ao.Shares,
				Price:  ao.Price,
				Side:   ao.Side,
				Stock:  ao.Stock,
				Symbol: sym,
			})
		}
		decoded = ao

	case OrderExecuted:
		orderNum, _ := wire.ReadU64LE(payload, 0)
		shares, _ := wire.ReadU32LE(payload, 8)
		if orders != nil {
			entry, _, _, _ = orders.Execute(ordertable.NumKey(orderNum), shares)
		}
		decoded = struct {
			OrderNum uint64
			Shares   uint32
		}{orderNum, shares}

	case OrderExecAtPrice:
		orderNum, _ := wire.ReadU64LE(payload, 0)
		remaining, _ := wire.ReadU32LE(payload, 8)
		price, _ := wire.ReadU64LE(payload, 12)
		if orders != nil {
			entry, _, _ = orders.ExecuteAtPrice(ordertable.NumKey(orderNum), remaining, price)
		}
		decoded = struct {
			OrderNum  uint64
			Remaining uint32
			Price     uint64
		}{orderNum, remaining, price}

	case ReduceSizeLong:
		orderNum, _ := wire.ReadU64LE(payload, 0)
		shares, _ := wire.ReadU32LE(payload, 8)
		if orders != nil {
			entry, _, _ = orders.ReduceSize(ordertable.NumKey(orderNum), shares)
		}
		decoded = struct {
			OrderNum uint64
			Shares   uint32
		}{orderNum, shares}

	case ReduceSizeShort:
		orderNum, _ := wire.ReadU64LE(payload, 0)
		shares16, _ := wire.ReadU16LE(payload, 8)
		if orders != nil {
			entry, _, _ = orders.ReduceSize(ordertable.NumKey(orderNum), uint32(shares16))
		}
		decoded = struct {
			OrderNum uint64
			Shares   uint16
		}{orderNum, shares16}

	case ModifyOrderLong:
		orderNum, _ := wire.ReadU64LE(payload, 0)
		shares, _ := wire.ReadU32LE(payload, 8)
		price, _ := wire.ReadU64LE(payload, 12)
		if orders != nil {
			entry, _ = orders.Modify(ordertable.NumKey(orderNum), shares, price)
		}
		decoded = struct {
			OrderNum uint64
			Shares   uint32
			Price    uint64
		}{orderNum, shares, price}

	case ModifyOrderShort:
		orderNum, _ := wire.ReadU64LE(payload, 0)
		shares16, _ := wire.ReadU16LE(payload, 8)
		price32, _ := wire.ReadU32LE(payload, 10)
		if orders != nil {
			entry, _ = orders.Modify(ordertable.NumKey(orderNum), uint32(shares16), uint64(price32)*100)
		}
		decoded = struct {
			OrderNum uint64
			Shares   uint16
			Price    uint32
		}{orderNum, shares16, price32}

	case DeleteOrder:
		orderNum, _ := wire.ReadU64LE(payload, 0)
		if orders != nil {
			entry, _ = orders.Delete(ordertable.NumKey(orderNum))
		}
		decoded = struct{ OrderNum uint64 }{orderNum}

	case TradeLong, TradeShort, TradeBreak, EndOfSession:
		decoded = struct {
			Kind line.RecordKind
			Raw  []byte
		}{kind, payload}
	}

	hooks.DispatchRecord(line.RecordView{
		Kind:    kind,
		Line:    ln,
		Conn:    conn,
		Seq:     seq,
		Raw:     payload,
		Decoded: decoded,
		Entry:   entry,
	})
}
