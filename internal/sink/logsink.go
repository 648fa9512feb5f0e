package sink

import (
	"github.com/hashicorp/go-hclog"

	"github.com/csfeeds/feedhandler/internal/line"
)

// LogSink logs every hook invocation with structured fields, grounded
// on the original plugin's de_log_msg_header/de_log_sym_table/
// de_log_ord_table trio: one log line per callback, the decoded
// fields spelled out rather than a single opaque blob.
type LogSink struct {
	Logger hclog.Logger
}

// NewLogSink returns a LogSink; a nil logger is replaced with a
// discard logger, so NewLogSink(nil) is safe to use directly. A zero
// LogSink, whose Logger is nil, is not.
func NewLogSink(logger hclog.Logger) *LogSink {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) CfgLoaded() {
	s.Logger.Info("cfg_loaded")
}

func (s *LogSink) LhInit(ln *line.Line) {
	s.Logger.Info("lh_init", "line", ln.Name, "next_seq", ln.NextSeq)
}

func (s *LogSink) Alert(ev line.AlertEvent) {
	lineName := ""
	if ev.Line != nil {
		lineName = ev.Line.Name
	}
	s.Logger.Warn("alert", "kind", ev.Kind, "line", lineName, "detail", ev.Detail, "at", ev.At)
}

func (s *LogSink) Record(view line.RecordView) (veto bool) {
	lineName := ""
	if view.Line != nil {
		lineName = view.Line.Name
	}
	s.Logger.Debug("record", "kind", view.Kind, "line", lineName, "seq", view.Seq, "decoded", view.Decoded)
	return false
}

func (s *LogSink) MsgFlush(conn *line.Connection) {
	s.Logger.Trace("msg_flush", "identity", conn.Identity)
}
