// Package session implements the Venue C TCP session engine of
// spec.md §4.6: connect, login, stream, and reconnect-forever, all
// observing a cancellation context at every wait.
//
// The login record layout (name[6], password[10], session[10],
// sequence[10]) and the accept/reject response shapes are grounded on
// original_source's fh_edge_login.c (login_request_msg/login_accept_msg/
// login_reject framing), re-expressed with internal/wire's ASCII codecs
// instead of the original's bespoke convert64to10chars/convert10chartoInt
// routines. The state machine's "retry forever, observing ctx" shape is
// grounded on the teacher's top-level main.go retry loop and
// eventsocket.Server.Serve's context-driven shutdown.
package session

import (
	"context"
	"errors"
	"io"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/csfeeds/feedhandler/internal/line"
	"github.com/csfeeds/feedhandler/internal/wire"
)

// State identifies a position in spec.md §4.6's state diagram.
type State int

const (
	Disconnected State = iota
	Connecting
	LoggingIn
	Streaming
	Reconnecting
	EndOfSession
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case LoggingIn:
		return "logging_in"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	case EndOfSession:
		return "end_of_session"
	default:
		return "unknown"
	}
}

const (
	nameLen    = 6
	passLen    = 10
	sessionLen = 10
	seqLen     = 10

	loginRequestLen = 1 + nameLen + passLen + sessionLen + seqLen + 1 // type + fields + LF
	loginAcceptLen  = 1 + sessionLen + seqLen + 1                     // type + session + seq + LF
	loginRejectLen  = 3                                               // type + reason + LF
)

// Credentials is the login identity sent on every connect attempt.
type Credentials struct {
	Name           string
	Password       string
	DesiredSession string
	DesiredSeq     uint64
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

// EncodeLoginRequest renders a login record per fh_edge_login.c's
// login_request_msg: 'L' + name[6] + password[10] + session[10] +
// sequence[10] + LF.
func EncodeLoginRequest(c Credentials) []byte {
	buf := make([]byte, loginRequestLen)
	buf[0] = 'L'
	copy(buf[1:1+nameLen], padRight(c.Name, nameLen))
	copy(buf[1+nameLen:1+nameLen+passLen], padRight(c.Password, passLen))
	copy(buf[1+nameLen+passLen:1+nameLen+passLen+sessionLen], padRight(c.DesiredSession, sessionLen))
	wire.PutASCIIAtoi(buf[1+nameLen+passLen+sessionLen:1+nameLen+passLen+sessionLen+seqLen], c.DesiredSeq)
	buf[loginRequestLen-1] = '\n'
	return buf
}

// LoginAccept is the decoded 'A' response.
type LoginAccept struct {
	Session string
	Seq     uint64
}

// RejectReason identifies the single reason byte of a 'J' response.
type RejectReason byte

const (
	NotAuthorized  RejectReason = 'A'
	InvalidSession RejectReason = 'S'
)

var (
	ErrUnknownResponse   = errors.New("session: unknown login response type")
	ErrMalformedResponse = errors.New("session: malformed login response")
	ErrLoginRejected     = errors.New("session: login rejected")
)

// DecodeLoginAccept parses the bytes following the leading 'A' type byte
// (sessionLen+seqLen+1 bytes: session, sequence, LF).
func DecodeLoginAccept(rest []byte) (LoginAccept, error) {
	if len(rest) != sessionLen+seqLen+1 || rest[len(rest)-1] != '\n' {
		return LoginAccept{}, ErrMalformedResponse
	}
	return LoginAccept{
		Session: string(rest[0:sessionLen]),
		Seq:     wire.ASCIIAtoi(rest[sessionLen : sessionLen+seqLen]),
	}, nil
}

// DecodeLoginReject parses the bytes following the leading 'J' type byte
// (reason byte + LF).
func DecodeLoginReject(rest []byte) (RejectReason, error) {
	if len(rest) != 2 || rest[1] != '\n' {
		return 0, ErrMalformedResponse
	}
	r := RejectReason(rest[0])
	if r != NotAuthorized && r != InvalidSession {
		return 0, ErrMalformedResponse
	}
	return r, nil
}

func (r RejectReason) String() string {
	switch r {
	case NotAuthorized:
		return "not authorized"
	case InvalidSession:
		return "invalid session"
	default:
		return "unknown"
	}
}

// Conn is the transport surface the session engine needs: line.Socket
// plus Write, for login records and client heartbeats.
type Conn interface {
	line.Socket
	Write(p []byte) (int, error)
}

// Dialer opens a new Conn, fixed-timeout per spec.md §4.6.
type Dialer func(ctx context.Context, addr string) (Conn, error)

const clientHeartbeat = "R\n"

// Engine drives one Line's Venue C TCP connection through the full
// connect/login/stream/reconnect cycle. Not safe for concurrent use;
// Run owns the single goroutine that advances State.
type Engine struct {
	Addr        string
	Credentials Credentials
	Dial        Dialer

	ConnectTimeout   time.Duration
	RetryDelay       time.Duration
	HeartbeatMisses  int // reference: 10
	HeartbeatPeriod  time.Duration
	Line             *line.Line
	Conn             *line.Connection
	Parser           line.Parser
	Hooks            *line.Hooks
	Logger           hclog.Logger

	state State
	sock  Conn
}

// NewEngine builds an Engine with spec.md §4.6's reference timings: 5s
// connect timeout, 3s retry delay, a heartbeat-miss countdown of 10
// ticked once per second.
func NewEngine(addr string, creds Credentials, dial Dialer, ln *line.Line, parser line.Parser, hooks *line.Hooks, logger hclog.Logger) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		Addr:            addr,
		Credentials:     creds,
		Dial:            dial,
		ConnectTimeout:  5 * time.Second,
		RetryDelay:      3 * time.Second,
		HeartbeatMisses: 10,
		HeartbeatPeriod: time.Second,
		Line:            ln,
		Parser:          parser,
		Hooks:           hooks,
		Logger:          logger,
		state:           Disconnected,
	}
}

// State reports the engine's current position in the diagram.
func (e *Engine) State() State { return e.state }

func sleepCancelable(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the state machine until ctx is cancelled. It never returns
// a non-nil error except ctx.Err(): every transport failure is handled
// by transitioning to Reconnecting and retrying forever, per spec.md
// §4.6's "retries are infinite with bounded backoff".
func (e *Engine) Run(ctx context.Context) error {
	loggedConnectFailure := false

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch e.state {
		case Disconnected, Reconnecting:
			wasReconnect := e.state == Reconnecting
			if wasReconnect {
				e.Hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertTCPConnectionBroken, Line: e.Line, At: time.Now()})
			}
			e.state = Connecting

		case Connecting:
			dialCtx, cancel := context.WithTimeout(ctx, e.ConnectTimeout)
			sock, err := e.Dial(dialCtx, e.Addr)
			cancel()
			if err != nil {
				if !loggedConnectFailure {
					e.Logger.Error("tcp connect failed", "addr", e.Addr, "err", err)
					loggedConnectFailure = true
				}
				if serr := sleepCancelable(ctx, e.RetryDelay); serr != nil {
					return serr
				}
				continue
			}
			loggedConnectFailure = false
			e.sock = sock
			e.state = LoggingIn

		case LoggingIn:
			accept, err := e.login(ctx)
			if err != nil {
				e.sock.Close()
				e.Logger.Error("login failed", "err", err)
				if serr := sleepCancelable(ctx, e.RetryDelay); serr != nil {
					return serr
				}
				e.state = Disconnected
				continue
			}
			e.Line.NextSeq = accept.Seq
			e.Hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertTCPConnectionEstablished, Line: e.Line, At: time.Now()})
			e.state = Streaming

		case Streaming:
			err := e.stream(ctx)
			if errors.Is(err, errEndOfSession) {
				e.sock.Close()
				e.Line.ResetSequence()
				e.state = EndOfSession
				continue
			}
			if err != nil {
				e.sock.Close()
				e.state = Reconnecting
				continue
			}

		case EndOfSession:
			e.Hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertSessionTerminated, Line: e.Line, At: time.Now()})
			e.state = Disconnected
		}
	}
}

func (e *Engine) login(ctx context.Context) (LoginAccept, error) {
	if err := e.sock.SetReadDeadline(time.Now().Add(e.ConnectTimeout)); err != nil {
		return LoginAccept{}, err
	}
	req := EncodeLoginRequest(e.Credentials)
	if _, err := e.sock.Write(req); err != nil {
		return LoginAccept{}, err
	}

	var typeByte [1]byte
	if _, err := io.ReadFull(readerFunc(e.sock.Read), typeByte[:]); err != nil {
		return LoginAccept{}, err
	}

	switch typeByte[0] {
	case 'A':
		rest := make([]byte, sessionLen+seqLen+1)
		if _, err := io.ReadFull(readerFunc(e.sock.Read), rest); err != nil {
			return LoginAccept{}, err
		}
		return DecodeLoginAccept(rest)
	case 'J':
		rest := make([]byte, 2)
		if _, err := io.ReadFull(readerFunc(e.sock.Read), rest); err != nil {
			return LoginAccept{}, err
		}
		reason, err := DecodeLoginReject(rest)
		if err != nil {
			return LoginAccept{}, err
		}
		e.Logger.Error("login rejected", "reason", reason.String())
		return LoginAccept{}, ErrLoginRejected
	default:
		return LoginAccept{}, ErrUnknownResponse
	}
}

var errEndOfSession = errors.New("session: end of session marker observed")

// readerFunc adapts a bound Read method to io.Reader.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// stream runs one pass of spec.md §4.6's Streaming state: poll for
// data, feed it to Parser, track the heartbeat-miss countdown, and send
// a client heartbeat on each silent second.
func (e *Engine) stream(ctx context.Context) error {
	missCountdown := e.HeartbeatMisses
	buf := make([]byte, 4096)
	lastSend := time.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := e.sock.SetReadDeadline(time.Now().Add(e.HeartbeatPeriod)); err != nil {
			return err
		}
		n, err := e.sock.Read(buf)
		now := time.Now()

		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				missCountdown--
				if missCountdown <= 0 {
					e.Hooks.DispatchAlert(line.AlertEvent{Kind: line.AlertServerHeartbeatMissing, Line: e.Line, Conn: e.Conn, At: now})
					missCountdown = e.HeartbeatMisses
				}
				if now.Sub(lastSend) >= e.HeartbeatPeriod {
					if _, werr := e.sock.Write([]byte(clientHeartbeat)); werr != nil {
						return werr
					}
					lastSend = now
				}
				continue
			}
			return err
		}

		missCountdown = e.HeartbeatMisses
		if e.Conn != nil {
			e.Conn.LastRecv = now
			e.Conn.Stats.Packets.Add(1)
			e.Conn.Stats.Bytes.Add(uint64(n))
		}

		data := buf[:n]
		if e.Parser != nil {
			if perr := e.Parser(data, e.Line, e.Conn, e.Hooks, now); perr != nil {
				if errors.Is(perr, line.ErrEndOfSession) {
					return errEndOfSession
				}
				if e.Conn != nil {
					e.Conn.Stats.PacketErrors.Add(1)
				}
			}
		}
		if e.Hooks != nil && e.Conn != nil {
			e.Hooks.DispatchMsgFlush(e.Conn)
		}
	}
}
