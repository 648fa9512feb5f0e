package sink

import "github.com/csfeeds/feedhandler/internal/line"

// Multi fans every call out to each Sink in order. Record calls every
// member even after one vetoes and reports a veto if any member vetoed
// (matching
// Hooks.dispatchRecord's own "either handler vetoed" rule, generalized
// to N sinks instead of one kind-specific plus one generic slot).
type Multi []Sink

func (m Multi) CfgLoaded() {
	for _, s := range m {
		s.CfgLoaded()
	}
}

func (m Multi) LhInit(ln *line.Line) {
	for _, s := range m {
		s.LhInit(ln)
	}
}

func (m Multi) Alert(ev line.AlertEvent) {
	for _, s := range m {
		s.Alert(ev)
	}
}

func (m Multi) Record(view line.RecordView) (veto bool) {
	for _, s := range m {
		if s.Record(view) {
			veto = true
		}
	}
	return veto
}

func (m Multi) MsgFlush(conn *line.Connection) {
	for _, s := range m {
		s.MsgFlush(conn)
	}
}
