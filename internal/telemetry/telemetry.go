// Package telemetry implements the stats & control surface of spec.md
// §4.8: Prometheus gauges mirroring every Connection counter, plus the
// get_stats/clear_stats/snap_stats/get_status operations the management
// surface (internal/mgmtsock) calls.
//
// The metric definitions are grounded directly on the teacher's metrics
// package: promauto-registered vectors, one per concern, each with a
// doc comment naming what it tracks. Connection counters are exposed as
// GaugeVecs rather than CounterVecs because Connection.Stats already
// holds the cumulative value (an atomic.Uint64 never reset except by
// clear_stats); Set mirrors that value directly instead of requiring a
// delta the scrape loop would have to reconstruct.
package telemetry

import (
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"

	"github.com/csfeeds/feedhandler/internal/line"
)

var (
	connPackets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_packets_total",
			Help: "Packets received on this connection.",
		}, []string{"line", "identity"})

	connMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_messages_total",
			Help: "Records accepted (in-order or gap-filled) on this connection.",
		}, []string{"line", "identity"})

	connBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_bytes_total",
			Help: "Bytes read from this connection.",
		}, []string{"line", "identity"})

	connPacketErrors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_packet_errors_total",
			Help: "Packets dropped for framing errors.",
		}, []string{"line", "identity"})

	connMessageErrors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_message_errors_total",
			Help: "Records dropped for framing or table errors.",
		}, []string{"line", "identity"})

	connDuplicatePackets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_duplicate_packets_total",
			Help: "Packets whose sequence number was below the expected window.",
		}, []string{"line", "identity"})

	connGaps = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_gaps_total",
			Help: "Forward sequence gaps observed.",
		}, []string{"line", "identity"})

	connLostMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_lost_messages_total",
			Help: "Messages presumed lost: forward gaps with no gap list, in-gap skips, and gap ranges evicted on overflow; ranges that expire unfilled are not counted.",
		}, []string{"line", "identity"})

	connRecoveredMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_conn_recovered_messages_total",
			Help: "Gap-fill records accepted into an open range.",
		}, []string{"line", "identity"})

	symbolTableOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_symbol_table_occupancy",
			Help: "Resident entries in the process-wide symbol table.",
		}, []string{"process"})

	orderTableOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedhandler_order_table_occupancy",
			Help: "Resident entries in the process-wide order table.",
		}, []string{"process"})
)

// Observe sets every gauge for one connection to its current snapshot.
func Observe(lineName string, identity line.Identity, snap line.StatsSnapshot) {
	labels := prometheus.Labels{"line": lineName, "identity": string(identity)}
	connPackets.With(labels).Set(float64(snap.Packets))
	connMessages.With(labels).Set(float64(snap.Messages))
	connBytes.With(labels).Set(float64(snap.Bytes))
	connPacketErrors.With(labels).Set(float64(snap.PacketErrors))
	connMessageErrors.With(labels).Set(float64(snap.MessageErrors))
	connDuplicatePackets.With(labels).Set(float64(snap.DuplicatePackets))
	connGaps.With(labels).Set(float64(snap.Gaps))
	connLostMessages.With(labels).Set(float64(snap.LostMessages))
	connRecoveredMessages.With(labels).Set(float64(snap.RecoveredMessages))
}

// ObserveTables records process-wide table occupancy.
func ObserveTables(processName string, symbolOccupancy, orderOccupancy int) {
	symbolTableOccupancy.WithLabelValues(processName).Set(float64(symbolOccupancy))
	orderTableOccupancy.WithLabelValues(processName).Set(float64(orderOccupancy))
}

// ConnStatsEntry names a Connection's snapshot by the Line and Identity
// it belongs to, matching spec.md §4.8's "per-line counters" shape for
// StatsResp.
type ConnStatsEntry struct {
	Line     string
	Identity line.Identity
	Stats    line.StatsSnapshot
}

// GetStats implements get_stats(): an atomic per-connection read across
// every Line in the Process. Individual counters may briefly disagree
// with one another, which spec.md §4.8 accepts.
func GetStats(p *line.Process) []ConnStatsEntry {
	var out []ConnStatsEntry
	for _, ln := range p.Lines {
		for _, conn := range ln.Connections() {
			out = append(out, ConnStatsEntry{Line: ln.Name, Identity: conn.Identity, Stats: conn.Stats.Snapshot()})
			Observe(ln.Name, conn.Identity, conn.Stats.Snapshot())
		}
	}
	if p.Symbols != nil || p.Orders != nil {
		sym, ord := 0, 0
		if p.Symbols != nil {
			sym = p.Symbols.Len()
		}
		if p.Orders != nil {
			ord = p.Orders.Len()
		}
		ObserveTables(p.Name, sym, ord)
	}
	return out
}

// ClearStats implements clear_stats(): zeroes every connection's
// counters. Must be called from the I/O thread (spec.md §4.8 says "on
// the I/O thread or via a queued request"); internal/mgmtsock queues
// this through Process.Enqueue rather than calling it directly from the
// management goroutine.
func ClearStats(p *line.Process) {
	for _, ln := range p.Lines {
		for _, conn := range ln.Connections() {
			conn.Stats.Clear()
		}
	}
}

// SnapStats implements snap_stats(): logs the delta in each connection's
// Messages counter since the previous call, keyed by Line name and
// Identity. The returned map should be passed back in on the next call.
func SnapStats(p *line.Process, logger hclog.Logger, last map[string]uint64) map[string]uint64 {
	if last == nil {
		last = make(map[string]uint64)
	}
	next := make(map[string]uint64, len(last))
	for _, ln := range p.Lines {
		for _, conn := range ln.Connections() {
			key := ln.Name + "/" + string(conn.Identity)
			cur := conn.Stats.Messages.Load()
			next[key] = cur
			logger.Info("snap_stats", "line", ln.Name, "identity", conn.Identity, "messages_delta", cur-last[key])
		}
	}
	return next
}

// Exit implements exit(): requests the I/O loop stop at its next
// wake-up.
func Exit(p *line.Process) { p.Exit() }

// ProcessInfo answers get_status() (spec.md §4.8): pid, tid, cpu time,
// and uptime since the Process was constructed.
type ProcessInfo struct {
	RunID     string
	PID       int
	TID       int
	CPU       time.Duration
	StartTime time.Time
	Uptime    time.Duration
}

// GetStatus implements get_status().
func GetStatus(p *line.Process) ProcessInfo {
	return ProcessInfo{
		RunID:     p.ID.String(),
		PID:       os.Getpid(),
		TID:       unix.Gettid(),
		CPU:       cpuTime(),
		StartTime: p.Stats.StartTime,
		Uptime:    time.Since(p.Stats.StartTime),
	}
}

func cpuTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}
