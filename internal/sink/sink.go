// Package sink models the plugin dispatch surface of spec.md §9
// ("Plugin dispatch via dynamic symbol load... Model as an interface
// abstraction") as a Go interface rather than a dynamically loaded
// shared object. Dynamic loading itself (plugin.Open and a loader
// that resolves symbols from a config-supplied path) is out of scope
// per spec.md §1; what's in scope is the capability a loaded plugin
// would provide, and a couple of concrete, statically-linked
// implementations for demonstration and tests.
package sink

import (
	"github.com/csfeeds/feedhandler/internal/line"
)

// Sink is the capability surface a consumer registers against a
// Process's Hooks: one method per hook kind spec.md §4.7/§4.8 defines.
type Sink interface {
	CfgLoaded()
	LhInit(ln *line.Line)
	Alert(ev line.AlertEvent)
	Record(view line.RecordView) (veto bool)
	MsgFlush(conn *line.Connection)
}

// Wire assigns every Hooks slot to call through to s. A record kind
// registered with Hooks.SetRecordHandler before or after Wire still
// fires first; s.Record then sees every record, including those with a
// more specific handler, matching the generic-MsgSend position in
// Hooks.dispatchRecord.
func Wire(hooks *line.Hooks, s Sink) {
	hooks.CfgLoaded = s.CfgLoaded
	hooks.LhInit = s.LhInit
	hooks.Alert = s.Alert
	hooks.MsgSend = s.Record
	hooks.MsgFlush = s.MsgFlush
}
