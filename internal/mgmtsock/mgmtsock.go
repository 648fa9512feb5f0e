// Package mgmtsock implements the management surface of spec.md §4.8/§6:
// a typed request/response protocol served over a Unix domain socket to
// the external management collaborator.
//
// Grounded on the teacher's eventsocket package: a net.Listener on a
// Unix domain socket, one goroutine accepting connections, each
// connection served in its own goroutine. eventsocket fans one JSON
// line out to every connected client; this package instead reads one
// JSON-line request per connection and writes back exactly one JSON-line
// response, since spec.md's management surface is request/response, not
// a notification fan-out.
package mgmtsock

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/csfeeds/feedhandler/internal/line"
	"github.com/csfeeds/feedhandler/internal/telemetry"
)

// ReqType discriminates the request envelope's payload, per spec.md §6's
// "Typed request/response" table.
type ReqType string

const (
	ReqStats   ReqType = "stats"
	ReqStatus  ReqType = "status"
	ReqVersion ReqType = "version"
	ReqAction  ReqType = "action"
)

// Action names the two operations ActionReq carries (spec.md §6:
// `ActionReq { ClearStats | Stop }`).
type Action string

const (
	ActionClearStats Action = "clear_stats"
	ActionStop       Action = "stop"
)

// Request is the single envelope shape every inbound JSON line decodes
// into; only the fields relevant to Type are populated.
type Request struct {
	Type   ReqType `json:"type"`
	Action Action  `json:"action,omitempty"`
}

// ConnStats mirrors telemetry.ConnStatsEntry in wire-friendly form.
type ConnStats struct {
	Line     string             `json:"line"`
	Identity string             `json:"identity"`
	Stats    line.StatsSnapshot `json:"stats"`
}

// StatsResp answers a StatsReq.
type StatsResp struct {
	Type  ReqType     `json:"type"`
	Lines []ConnStats `json:"lines"`
}

// StatusResp answers a StatusReq (spec.md §6: `{pid,tid,cpu,uptime}`).
type StatusResp struct {
	Type          ReqType `json:"type"`
	RunID         string  `json:"run_id"`
	PID           int     `json:"pid"`
	TID           int     `json:"tid"`
	CPUSeconds    float64 `json:"cpu_seconds"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// VersionResp answers a VersionReq.
type VersionResp struct {
	Type    ReqType `json:"type"`
	Version string  `json:"version"`
}

// ActionResp answers an ActionReq.
type ActionResp struct {
	Type  ReqType `json:"type"`
	OK    bool    `json:"ok"`
	Error string  `json:"error,omitempty"`
}

// ErrorResp is sent back for a malformed or unknown request.
type ErrorResp struct {
	Type  ReqType `json:"type"`
	Error string  `json:"error"`
}

// Server serves the management protocol for one Process over a Unix
// domain socket.
type Server struct {
	filename     string
	process      *line.Process
	version      string
	logger       hclog.Logger
	unixListener net.Listener
	servingWG    sync.WaitGroup

	mu       sync.Mutex
	snapLast map[string]uint64
}

// New builds a Server bound to filename, answering on behalf of p.
func New(filename string, p *line.Process, version string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{filename: filename, process: p, version: version, logger: logger, snapLast: make(map[string]uint64)}
}

// Listen binds the Unix domain socket, removing any stale socket file
// left behind by an unclean shutdown, matching eventsocket.Listen.
func (s *Server) Listen() error {
	os.Remove(s.filename)
	var err error
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts connections until ctx is cancelled, handling each on
// its own goroutine. Grounded on eventsocket.Server.Serve's
// context-driven shutdown shape.
func (s *Server) Serve(ctx context.Context) error {
	s.servingWG.Add(1)
	go func() {
		<-ctx.Done()
		s.unixListener.Close()
		s.servingWG.Done()
	}()

	var err error
	for ctx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				err = nil
			}
			break
		}
		s.servingWG.Add(1)
		go s.handle(conn)
	}
	s.servingWG.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer s.servingWG.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(ErrorResp{Error: "malformed request: " + err.Error()})
			continue
		}
		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Error("mgmtsock: write failed", "err", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) any {
	switch req.Type {
	case ReqStats:
		entries := telemetry.GetStats(s.process)
		resp := StatsResp{Type: ReqStats}
		for _, e := range entries {
			resp.Lines = append(resp.Lines, ConnStats{Line: e.Line, Identity: string(e.Identity), Stats: e.Stats})
		}
		return resp

	case ReqStatus:
		info := telemetry.GetStatus(s.process)
		return StatusResp{
			Type:          ReqStatus,
			RunID:         info.RunID,
			PID:           info.PID,
			TID:           info.TID,
			CPUSeconds:    info.CPU.Seconds(),
			UptimeSeconds: info.Uptime.Seconds(),
		}

	case ReqVersion:
		return VersionResp{Type: ReqVersion, Version: s.version}

	case ReqAction:
		return s.dispatchAction(req.Action)

	default:
		return ErrorResp{Error: "unknown request type: " + string(req.Type)}
	}
}

func (s *Server) dispatchAction(action Action) ActionResp {
	switch action {
	case ActionClearStats:
		done := make(chan struct{})
		if !s.process.Enqueue(func() { telemetry.ClearStats(s.process); close(done) }) {
			return ActionResp{Type: ReqAction, OK: false, Error: "command queue full"}
		}
		<-done
		return ActionResp{Type: ReqAction, OK: true}

	case ActionStop:
		telemetry.Exit(s.process)
		return ActionResp{Type: ReqAction, OK: true}

	default:
		return ActionResp{Type: ReqAction, OK: false, Error: "unknown action: " + string(action)}
	}
}
