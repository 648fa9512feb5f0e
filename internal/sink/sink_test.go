package sink

import (
	"testing"
	"time"

	"github.com/csfeeds/feedhandler/internal/line"
)

type recordingSink struct {
	cfgLoaded int
	lhInit    []*line.Line
	alerts    []line.AlertEvent
	records   []line.RecordView
	flushes   []*line.Connection
	vetoAll   bool
}

func (r *recordingSink) CfgLoaded()        { r.cfgLoaded++ }
func (r *recordingSink) LhInit(ln *line.Line) { r.lhInit = append(r.lhInit, ln) }
func (r *recordingSink) Alert(ev line.AlertEvent) { r.alerts = append(r.alerts, ev) }
func (r *recordingSink) Record(view line.RecordView) bool {
	r.records = append(r.records, view)
	return r.vetoAll
}
func (r *recordingSink) MsgFlush(conn *line.Connection) { r.flushes = append(r.flushes, conn) }

func TestWireDispatchesThroughHooks(t *testing.T) {
	hooks := line.NewHooks()
	rec := &recordingSink{}
	Wire(hooks, rec)

	ln := line.NewLine("A")
	hooks.DispatchCfgLoaded()
	hooks.DispatchLhInit(ln)
	hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertGap, Line: ln, At: time.Now()})
	conn := &line.Connection{Identity: line.Primary}
	hooks.DispatchMsgFlush(conn)
	veto := hooks.DispatchRecord(line.RecordView{Line: ln, Conn: conn, Seq: 1})

	if rec.cfgLoaded != 1 {
		t.Fatalf("cfgLoaded = %d, want 1", rec.cfgLoaded)
	}
	if len(rec.lhInit) != 1 || rec.lhInit[0] != ln {
		t.Fatalf("lhInit = %+v", rec.lhInit)
	}
	if len(rec.alerts) != 1 || rec.alerts[0].Kind != line.AlertGap {
		t.Fatalf("alerts = %+v", rec.alerts)
	}
	if len(rec.flushes) != 1 || rec.flushes[0] != conn {
		t.Fatalf("flushes = %+v", rec.flushes)
	}
	if len(rec.records) != 1 {
		t.Fatalf("records = %+v", rec.records)
	}
	if veto {
		t.Fatal("expected no veto")
	}
}

func TestMultiFansOutAndAggregatesVeto(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{vetoAll: true}
	m := Multi{a, b}

	m.CfgLoaded()
	if a.cfgLoaded != 1 || b.cfgLoaded != 1 {
		t.Fatal("expected both sinks to see CfgLoaded")
	}

	veto := m.Record(line.RecordView{Seq: 1})
	if !veto {
		t.Fatal("expected veto true when any member vetoes")
	}
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatal("expected both sinks to see the record")
	}
}

func TestLogSinkHandlesNilLogger(t *testing.T) {
	s := NewLogSink(nil)
	ln := line.NewLine("A")
	conn := &line.Connection{Identity: line.Primary}

	s.CfgLoaded()
	s.LhInit(ln)
	s.Alert(line.AlertEvent{Kind: line.AlertLoss, Line: ln})
	s.MsgFlush(conn)
	if veto := s.Record(line.RecordView{Line: ln, Conn: conn}); veto {
		t.Fatal("expected LogSink.Record to never veto")
	}
}
