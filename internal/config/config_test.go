package config

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
)

const sampleYAML = `
venuec:
  processes:
    proc1:
      cpu: 2
      lines: [A, B]
  lines:
    A:
      protocol: asciisession
      primary: {address: 10.0.0.1, port: 12001, interface: eth0, enabled: true}
      secondary: {address: 10.0.0.2, port: 12002, enabled: false}
      login: {name: feedA, password: secretA}
    B:
      protocol: pitch
      primary: {address: 10.0.0.3, port: 12003, enabled: true}
  fill_gaps:
    max: 64
    timeout: 5
  symbol_table:
    enabled: true
    size: 8192
  order_table:
    enabled: true
    size: 65536
`

func loadSample(t *testing.T) *Venue {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(sampleYAML)); err != nil {
		t.Fatal(err)
	}
	venue, err := Load(v, "venuec")
	if err != nil {
		t.Fatal(err)
	}
	return venue
}

func TestLoadDecodesEndpointsAndLogin(t *testing.T) {
	venue := loadSample(t)

	lineA, ok := venue.Lines["A"]
	if !ok {
		t.Fatal("expected line A")
	}
	if lineA.Primary.Address != "10.0.0.1" || lineA.Primary.Port != 12001 || !lineA.Primary.Enabled {
		t.Fatalf("Primary = %+v", lineA.Primary)
	}
	if lineA.Login.Name != "feedA" || lineA.Login.Password != "secretA" {
		t.Fatalf("Login = %+v", lineA.Login)
	}
	if lineA.Protocol != ProtocolASCIISession {
		t.Fatalf("Protocol = %q", lineA.Protocol)
	}
}

func TestValidateRejectsUnrecognizedProtocol(t *testing.T) {
	venue := loadSample(t)
	lineA := venue.Lines["A"]
	lineA.Protocol = "bogus"
	venue.Lines["A"] = lineA

	if err := venue.Validate(); err == nil {
		t.Fatal("expected validation error for unrecognized protocol")
	}
}

func TestLoadDecodesProcessAndGapAndTables(t *testing.T) {
	venue := loadSample(t)

	proc, lines, err := venue.ResolveProcess("proc1")
	if err != nil {
		t.Fatal(err)
	}
	if proc.CPU == nil || *proc.CPU != 2 {
		t.Fatalf("CPU = %v", proc.CPU)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if venue.FillGaps.Max != 64 || venue.FillGaps.TimeoutSeconds != 5 {
		t.Fatalf("FillGaps = %+v", venue.FillGaps)
	}
	if !venue.SymbolTable.Enabled || venue.SymbolTable.Size != 8192 {
		t.Fatalf("SymbolTable = %+v", venue.SymbolTable)
	}
}

func TestResolveProcessUnknownProcess(t *testing.T) {
	venue := loadSample(t)
	if _, _, err := venue.ResolveProcess("missing"); err == nil {
		t.Fatal("expected error for unconfigured process")
	}
}

func TestResolveProcessUndefinedLine(t *testing.T) {
	venue := loadSample(t)
	venue.Processes["bad"] = ProcessConfig{Lines: []string{"ZZZ"}}
	if _, _, err := venue.ResolveProcess("bad"); err == nil {
		t.Fatal("expected error for undefined line reference")
	}
}

func TestValidateRejectsEnabledEndpointMissingAddress(t *testing.T) {
	venue := loadSample(t)
	lineA := venue.Lines["A"]
	lineA.Secondary.Enabled = true
	lineA.Secondary.Address = ""
	venue.Lines["A"] = lineA

	if err := venue.Validate(); err == nil {
		t.Fatal("expected validation error for enabled secondary missing address")
	}
}

func TestValidateRejectsNegativeGapMax(t *testing.T) {
	venue := loadSample(t)
	venue.FillGaps.Max = -1
	if err := venue.Validate(); err == nil {
		t.Fatal("expected validation error for negative fill_gaps.max")
	}
}
