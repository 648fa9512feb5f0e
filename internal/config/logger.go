package config

import "github.com/hashicorp/go-hclog"

// Logger is a minimal structured-logging interface, backed by an
// hclog.Logger through HCLogAdapter. The core packages and
// cmd/feedhandler take hclog.Logger directly; none of them use Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// HCLogAdapter satisfies Logger with an underlying hclog.Logger.
type HCLogAdapter struct {
	L hclog.Logger
}

func (a HCLogAdapter) Debug(msg string, args ...any) { a.L.Debug(msg, args...) }
func (a HCLogAdapter) Info(msg string, args ...any)  { a.L.Info(msg, args...) }
func (a HCLogAdapter) Warn(msg string, args ...any)  { a.L.Warn(msg, args...) }
func (a HCLogAdapter) Error(msg string, args ...any) { a.L.Error(msg, args...) }
