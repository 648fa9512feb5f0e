package line

import (
	"sync"
	"time"

	"github.com/csfeeds/feedhandler/internal/ordertable"
)

// AlertKind enumerates the alert identities raised by the sequence and
// session engines (spec.md §4.5, §4.6).
type AlertKind int

const (
	AlertGap AlertKind = iota
	AlertLoss
	AlertNoGap
	AlertSessionTerminated
	AlertTCPConnectionBroken
	AlertTCPConnectionEstablished
	AlertServerHeartbeatMissing
)

// AlertEvent is the payload delivered to the Alert hook slot.
type AlertEvent struct {
	Kind   AlertKind
	Line   *Line
	Conn   *Connection
	Detail string
	At     time.Time
}

// RecordKind identifies a decoded record's venue-specific wire type. Each
// venue package (internal/pitch, internal/moldudp64, internal/asciisession)
// defines its own RecordKind constants in disjoint numeric bands so a
// single dispatcher table serves all three without collision.
type RecordKind uint16

// RecordView is what a parser hands to the dispatcher after applying
// table side effects: the decoded record plus enough context for a
// handler to veto the parser's default action (spec.md §4.7). Entry is
// the resting order the table mutation inserted or touched, when the
// record is an add or an execute/modify/cancel/delete against an
// existing order; it is a weak reference borrowed from the table for
// the duration of the hook call only, and is nil for records that don't
// address an order (trades, administrative records) or whose table
// operation failed.
type RecordView struct {
	Kind    RecordKind
	Line    *Line
	Conn    *Connection
	Seq     uint64
	Raw     []byte
	Decoded any
	Entry   *ordertable.Entry
}

// RecordHandler inspects a RecordView and may veto the caller's default
// handling of it (spec.md §4.7: "the handler returns a result that can
// veto the default action").
type RecordHandler func(RecordView) (veto bool)

// Hooks is the fixed dispatcher table of spec.md §4.7/§4.8's "Dispatcher
// / hook surface": a closed set of named slots (CfgLoaded, LhInit, Alert,
// MsgSend, MsgFlush) plus one slot per venue record kind, each holding at
// most one registered handler. Grounded on the teacher's eventsocket.Server:
// a registered-once callback surface invoked synchronously from the I/O
// goroutine, narrowed here from a pub/sub fan-out to a single slot per
// kind, matching the spec's "at most one handler" contract.
type Hooks struct {
	CfgLoaded func()
	LhInit    func(*Line)
	Alert     func(AlertEvent)
	MsgSend   RecordHandler
	MsgFlush  func(*Connection)

	mu      sync.Mutex
	records map[RecordKind]RecordHandler
}

// NewHooks returns an empty dispatcher table; every slot is nil until
// set.
func NewHooks() *Hooks {
	return &Hooks{records: make(map[RecordKind]RecordHandler)}
}

// SetRecordHandler registers the single handler for kind, replacing any
// previously registered handler (spec.md's "at most one handler per
// kind" is a capacity, not a write-once restriction).
func (h *Hooks) SetRecordHandler(kind RecordKind, fn RecordHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[kind] = fn
}

// DispatchRecord invokes the record-kind-specific handler, if any,
// followed by the generic MsgSend handler (spec.md §4.7: "When no hook is
// registered, the parser sets out-data = &record_view ... so the generic
// msg-send hook, if any, sees the decoded view"). It returns true if
// either handler vetoed.
func (h *Hooks) dispatchRecord(view RecordView) (veto bool) {
	if h == nil {
		return false
	}
	h.mu.Lock()
	fn := h.records[view.Kind]
	h.mu.Unlock()
	if fn != nil && fn(view) {
		veto = true
	}
	if h.MsgSend != nil && h.MsgSend(view) {
		veto = true
	}
	return veto
}

// DispatchRecord is the exported entry point parsers call once per
// decoded record, after table side effects and before advancing
// next_seq_no (spec.md §4.4 step 3, §5 "table mutations happen-before
// the hook call").
func (h *Hooks) DispatchRecord(view RecordView) (veto bool) { return h.dispatchRecord(view) }

func (h *Hooks) dispatchAlert(ev AlertEvent) {
	if h == nil || h.Alert == nil {
		return
	}
	h.Alert(ev)
}

// DispatchAlert is the exported entry point for the sequence and session
// engines to raise an alert through the registered Alert hook.
func (h *Hooks) DispatchAlert(ev AlertEvent) { h.dispatchAlert(ev) }

func (h *Hooks) dispatchMsgFlush(conn *Connection) {
	if h == nil || h.MsgFlush == nil {
		return
	}
	h.MsgFlush(conn)
}

// DispatchMsgFlush invokes the MsgFlush hook, if registered.
func (h *Hooks) DispatchMsgFlush(conn *Connection) { h.dispatchMsgFlush(conn) }

// DispatchCfgLoaded invokes the CfgLoaded hook, if registered.
func (h *Hooks) DispatchCfgLoaded() {
	if h == nil || h.CfgLoaded == nil {
		return
	}
	h.CfgLoaded()
}

// DispatchLhInit invokes the LhInit hook, if registered.
func (h *Hooks) DispatchLhInit(ln *Line) {
	if h == nil || h.LhInit == nil {
		return
	}
	h.LhInit(ln)
}
