// Package config defines the Go-native shape of the configuration
// snapshot a Process is constructed from (spec.md §3, §6). Loading the
// on-disk hierarchical key/value file is an external collaborator's
// job; what lives here is the struct tree an external loader decodes
// into, plus the small validation spec.md §7 calls a Fatal error.
//
// Grounded on nabbar/golib's component-config structs: plain Go types
// tagged for github.com/mitchellh/mapstructure (the decoder
// github.com/spf13/viper uses internally), one struct per config
// block, a top-level block keyed by name.
package config

import (
	"fmt"

	"github.com/csfeeds/feedhandler/internal/ferr"
)

// EndpointConfig describes one feed endpoint (spec.md §6:
// `<venue>.lines.<name>.primary|secondary.{address,port,interface,enabled}`).
type EndpointConfig struct {
	Address   string `mapstructure:"address"`
	Port      int    `mapstructure:"port"`
	Interface string `mapstructure:"interface"`
	Enabled   bool   `mapstructure:"enabled"`
}

// LoginConfig carries TCP session credentials (spec.md §6:
// `<venue>.lines.<name>.login.{name,password}`).
type LoginConfig struct {
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

// Protocol names which wire format a line's Parser decodes (spec.md
// §4.4's three venues). Not itself one of spec.md §6's named config
// paths — the wire format is a property of the venue, not the
// hierarchical file format — but a running binary has to know which
// of internal/pitch, internal/moldudp64, or internal/asciisession to
// construct for a given line, so the field lives here.
type Protocol string

const (
	ProtocolPitch        Protocol = "pitch"
	ProtocolMoldUDP64    Protocol = "moldudp64"
	ProtocolASCIISession Protocol = "asciisession"
)

// LineConfig describes one logical feed (spec.md §6: `<venue>.lines.<name>`).
type LineConfig struct {
	Protocol  Protocol       `mapstructure:"protocol"`
	Primary   EndpointConfig `mapstructure:"primary"`
	Secondary EndpointConfig `mapstructure:"secondary"`
	Login     LoginConfig    `mapstructure:"login"`
}

// ProcessConfig describes one process block (spec.md §6:
// `<venue>.processes.<name>.{cpu,lines}`).
type ProcessConfig struct {
	CPU   *int     `mapstructure:"cpu"`
	Lines []string `mapstructure:"lines"`
}

// GapConfig sizes the gap tracker (spec.md §6: `<venue>.fill_gaps.{max,timeout}`).
// Max == 0 disables gap tracking.
type GapConfig struct {
	Max            int `mapstructure:"max"`
	TimeoutSeconds int `mapstructure:"timeout"`
}

// TableConfig enables and sizes a lookup table (spec.md §6:
// `<venue>.symbol_table|order_table.{enabled,size}`).
type TableConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Size    int  `mapstructure:"size"`
}

// Venue is the top-level configured block a running binary reads one
// instance of (spec.md §6: "Recognized top-level block `<venue>`").
type Venue struct {
	Processes   map[string]ProcessConfig `mapstructure:"processes"`
	Lines       map[string]LineConfig    `mapstructure:"lines"`
	FillGaps    GapConfig                `mapstructure:"fill_gaps"`
	SymbolTable TableConfig              `mapstructure:"symbol_table"`
	OrderTable  TableConfig              `mapstructure:"order_table"`
}

// ResolveProcess returns the named process block and the LineConfigs it
// references, in the order listed, or a Fatal-kind error if the process
// or any of its lines is not configured (spec.md §6: "1 configuration
// error, missing process").
func (v *Venue) ResolveProcess(name string) (ProcessConfig, []LineConfig, error) {
	proc, ok := v.Processes[name]
	if !ok {
		return ProcessConfig{}, nil, ferr.Wrap(ferr.Fatal, fmt.Errorf("process %q not configured", name))
	}

	lines := make([]LineConfig, 0, len(proc.Lines))
	for _, lineName := range proc.Lines {
		lc, ok := v.Lines[lineName]
		if !ok {
			return ProcessConfig{}, nil, ferr.Wrap(ferr.Fatal, fmt.Errorf("process %q references undefined line %q", name, lineName))
		}
		lines = append(lines, lc)
	}
	return proc, lines, nil
}

// Validate checks the cross-references and ranges spec.md §7 treats as
// a Fatal startup error: at least one process must be configured, every
// process's lines must exist, every line's protocol must be recognized,
// every non-disabled endpoint needs an address and port, fill_gaps.max
// must be non-negative, and an enabled table needs a positive size.
func (v *Venue) Validate() error {
	if len(v.Processes) == 0 {
		return ferr.Wrap(ferr.Fatal, fmt.Errorf("no processes configured"))
	}
	for name := range v.Processes {
		if _, _, err := v.ResolveProcess(name); err != nil {
			return err
		}
	}
	for name, lc := range v.Lines {
		switch lc.Protocol {
		case ProtocolPitch, ProtocolMoldUDP64, ProtocolASCIISession:
		default:
			return ferr.Wrap(ferr.Fatal, fmt.Errorf("line %q: unrecognized protocol %q", name, lc.Protocol))
		}
		if lc.Primary.Enabled && (lc.Primary.Address == "" || lc.Primary.Port == 0) {
			return ferr.Wrap(ferr.Fatal, fmt.Errorf("line %q: primary enabled but address/port missing", name))
		}
		if lc.Secondary.Enabled && (lc.Secondary.Address == "" || lc.Secondary.Port == 0) {
			return ferr.Wrap(ferr.Fatal, fmt.Errorf("line %q: secondary enabled but address/port missing", name))
		}
	}
	if v.FillGaps.Max < 0 {
		return ferr.Wrap(ferr.Fatal, fmt.Errorf("fill_gaps.max must be >= 0, got %d", v.FillGaps.Max))
	}
	if v.SymbolTable.Enabled && v.SymbolTable.Size <= 0 {
		return ferr.Wrap(ferr.Fatal, fmt.Errorf("symbol_table.size must be > 0 when enabled"))
	}
	if v.OrderTable.Enabled && v.OrderTable.Size <= 0 {
		return ferr.Wrap(ferr.Fatal, fmt.Errorf("order_table.size must be > 0 when enabled"))
	}
	return nil
}
