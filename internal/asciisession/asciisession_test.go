package asciisession

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/csfeeds/feedhandler/internal/gaplist"
	"github.com/csfeeds/feedhandler/internal/line"
	"github.com/csfeeds/feedhandler/internal/ordertable"
	"github.com/csfeeds/feedhandler/internal/symboltable"
	"github.com/csfeeds/feedhandler/internal/wire"
)

func rjust(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func ref(s string) string {
	if len(s) >= orderRefLen {
		return s[:orderRefLen]
	}
	return s + strings.Repeat(" ", orderRefLen-len(s))
}

func price10(units uint64) string {
	buf := make([]byte, 10)
	wire.PutASCIIPrice10(buf, units)
	return string(buf)
}

func addOrderLine(seq uint64, orderRef string, side byte, shares uint32, security string, priceUnits uint64) string {
	fields := ref(orderRef) + string(side) + rjust(itoa(shares), shareFieldLen) + rjust(security, securityLen) + price10(priceUnits) + "Y" + "    "
	return "S" + "A" + rjust(itoa64(seq), seqFieldLen) + fields
}

func orderExecutedLine(seq uint64, orderRef string, shares uint32, matchNum string) string {
	fields := ref(orderRef) + rjust(itoa(shares), shareFieldLen) + rjust(matchNum, matchNumLen)
	return "S" + "E" + rjust(itoa64(seq), seqFieldLen) + fields
}

func itoa(v uint32) string {
	return itoa64(uint64(v))
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte('0' + v%10)}, b...)
		v /= 10
	}
	return string(b)
}

func newHarness() (*symboltable.Table, *ordertable.Table, *gaplist.List) {
	return symboltable.New(16, nil), ordertable.New(16, nil), gaplist.New(8, time.Minute)
}

func TestAddOrderHappyPath(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	conn := &line.Connection{}
	hooks := line.NewHooks()

	var seen []line.RecordKind
	hooks.MsgSend = func(v line.RecordView) bool {
		seen = append(seen, v.Kind)
		return false
	}

	input := []byte(addOrderLine(1, "REF000000001", 'B', 100, "MSFT", 1000000) + "\n")
	if err := parser(input, ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if ln.NextSeq != 2 {
		t.Fatalf("NextSeq = %d, want 2", ln.NextSeq)
	}
	if len(seen) != 1 || seen[0] != AddOrder {
		t.Fatalf("seen = %v", seen)
	}
	if _, ok := orders.Get(ordertable.RefKey("REF000000001")); !ok {
		t.Fatal("expected order resident")
	}
}

func TestPartialReadReassembly(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	conn := &line.Connection{}
	hooks := line.NewHooks()

	full := addOrderLine(1, "REF000000002", 'S', 200, "AAPL", 2000000) + "\n"
	mid := len(full) / 2

	if err := parser([]byte(full[:mid]), ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if ln.NextSeq != 1 {
		t.Fatalf("NextSeq = %d, want unchanged at 1 before full line arrives", ln.NextSeq)
	}
	if err := parser([]byte(full[mid:]), ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if ln.NextSeq != 2 {
		t.Fatalf("NextSeq = %d, want 2 after full line arrives", ln.NextSeq)
	}
	if _, ok := orders.Get(ordertable.RefKey("REF000000002")); !ok {
		t.Fatal("expected order resident after reassembly")
	}
}

func TestHeartbeatLineIsIgnored(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	ln.NextSeq = 5
	conn := &line.Connection{}
	hooks := line.NewHooks()

	if err := parser([]byte("H\n"), ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if ln.NextSeq != 5 {
		t.Fatalf("NextSeq = %d, want unchanged at 5", ln.NextSeq)
	}
}

func TestDebugLineIsIgnored(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	conn := &line.Connection{}
	hooks := line.NewHooks()

	if err := parser([]byte("+some debug text\n"), ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if ln.NextSeq != 1 {
		t.Fatalf("NextSeq = %d, want unchanged at 1", ln.NextSeq)
	}
}

func TestBareEndOfSessionReturnsErrEndOfSession(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	ln.NextSeq = 42
	conn := &line.Connection{}
	hooks := line.NewHooks()

	if err := parser([]byte("S\n"), ln, conn, hooks, time.Now()); !errors.Is(err, line.ErrEndOfSession) {
		t.Fatalf("err = %v, want line.ErrEndOfSession", err)
	}
	// the session engine, not the parser, owns resetting the sequence
	// and dispatching the SESSION_TERMINATED alert once it observes
	// ErrEndOfSession.
	if ln.NextSeq != 42 {
		t.Fatalf("NextSeq = %d, want unchanged at 42", ln.NextSeq)
	}
}

func TestBareEndOfSessionSplitAcrossReadsStillDetected(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	conn := &line.Connection{}
	hooks := line.NewHooks()

	if err := parser([]byte("S"), ln, conn, hooks, time.Now()); err != nil {
		t.Fatalf("unexpected error on partial marker: %v", err)
	}
	if err := parser([]byte("\n"), ln, conn, hooks, time.Now()); !errors.Is(err, line.ErrEndOfSession) {
		t.Fatalf("err = %v, want line.ErrEndOfSession once the marker is reassembled", err)
	}
}

func TestOrderExecutedReducesOrderTable(t *testing.T) {
	symbols, orders, gaps := newHarness()
	orders.Insert(&ordertable.Entry{Key: ordertable.RefKey("REF000000003"), Shares: 100, Side: ordertable.Buy})
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	conn := &line.Connection{}
	hooks := line.NewHooks()

	var seenEntry *ordertable.Entry
	hooks.MsgSend = func(v line.RecordView) bool {
		seenEntry = v.Entry
		return false
	}

	input := []byte(orderExecutedLine(1, "REF000000003", 40, "MATCH1") + "\n")
	if err := parser(input, ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	entry, ok := orders.Get(ordertable.RefKey("REF000000003"))
	if !ok {
		t.Fatal("expected order still resident")
	}
	if entry.Shares != 60 {
		t.Fatalf("Shares = %d, want 60", entry.Shares)
	}
	if seenEntry == nil || seenEntry.Side != ordertable.Buy || seenEntry.Shares != 60 {
		t.Fatalf("RecordView.Entry = %+v, want the resting order visible to the hook", seenEntry)
	}
}

func TestDuplicateSequenceIncrementsCounter(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	conn := &line.Connection{}
	hooks := line.NewHooks()

	input := []byte(addOrderLine(1, "REF000000004", 'B', 10, "AAA", 100) + "\n")
	if err := parser(input, ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := parser(input, ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if conn.Stats.DuplicatePackets.Load() != 1 {
		t.Fatalf("DuplicatePackets = %d, want 1", conn.Stats.DuplicatePackets.Load())
	}
}

func TestUnknownRecordTypeIncrementsMessageErrors(t *testing.T) {
	symbols, orders, gaps := newHarness()
	parser := NewParser(symbols, orders, gaps)
	ln := line.NewLine("C")
	conn := &line.Connection{}
	hooks := line.NewHooks()

	input := []byte("SZ0000000001somegarbage\n")
	if err := parser(input, ln, conn, hooks, time.Now()); err != nil {
		t.Fatal(err)
	}
	if conn.Stats.MessageErrors.Load() != 1 {
		t.Fatalf("MessageErrors = %d, want 1", conn.Stats.MessageErrors.Load())
	}
}

func TestReassemblerKeepsTrailingPartial(t *testing.T) {
	var r Reassembler
	lines := r.Feed([]byte("abc\ndef\ngh"))
	if len(lines) != 2 || !bytes.Equal(lines[0], []byte("abc")) || !bytes.Equal(lines[1], []byte("def")) {
		t.Fatalf("lines = %v", lines)
	}
	lines = r.Feed([]byte("i\n"))
	if len(lines) != 1 || !bytes.Equal(lines[0], []byte("ghi")) {
		t.Fatalf("second Feed lines = %v", lines)
	}
}
