// Command feedhandler is the process entry point of spec.md §6: it
// loads a configured process block, wires that process's Lines to
// their sockets and wire-format parsers, starts the management
// surface, and runs the cooperative reader loop until signalled or
// told to stop.
//
// Grounded on the teacher's main.go (context.WithCancel wired to
// process lifetime, a single top-level Run call, deferred shutdown),
// generalized from stdlib flag to github.com/spf13/cobra +
// github.com/spf13/viper per nabbar-golib's cobra/viper-backed CLI
// frontend, and from log.Println to github.com/hashicorp/go-hclog per
// nabbar-golib/logger/hashicorp.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/csfeeds/feedhandler/internal/asciisession"
	"github.com/csfeeds/feedhandler/internal/config"
	"github.com/csfeeds/feedhandler/internal/gaplist"
	"github.com/csfeeds/feedhandler/internal/line"
	"github.com/csfeeds/feedhandler/internal/mcast"
	"github.com/csfeeds/feedhandler/internal/mgmtsock"
	"github.com/csfeeds/feedhandler/internal/moldudp64"
	"github.com/csfeeds/feedhandler/internal/ordertable"
	"github.com/csfeeds/feedhandler/internal/pitch"
	"github.com/csfeeds/feedhandler/internal/session"
	"github.com/csfeeds/feedhandler/internal/sink"
	"github.com/csfeeds/feedhandler/internal/symboltable"
)

// version is set at build time with -ldflags "-X main.version=...";
// "dev" is what a local build reports.
var version = "dev"

var (
	flagConfigFile string
	flagVenueKey   string
	flagProcess    string
	flagDebug      bool
	flagStandalone bool
	flagVersion    bool
	flagMetrics    string
	flagMgmtSocket string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flagUsageAlt bool

	cmd := &cobra.Command{
		Use:           "feedhandler",
		Short:         "Low-latency market-data feed handler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagUsageAlt {
				return cmd.Help()
			}
			return run()
		},
	}

	cmd.Flags().StringVarP(&flagConfigFile, "config", "c", "feedhandler.yaml", "configuration file path")
	cmd.Flags().StringVar(&flagVenueKey, "venue", "venuec", "top-level configured venue block")
	cmd.Flags().StringVarP(&flagProcess, "process", "p", "", "configured process block to run (required)")
	cmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "debug: inhibit daemonize, escalate log verbosity")
	cmd.Flags().BoolVarP(&flagStandalone, "standalone", "s", false, "standalone: skip connecting to the management collaborator")
	cmd.Flags().BoolVarP(&flagVersion, "version", "v", false, "print version and exit")
	cmd.Flags().StringVar(&flagMetrics, "metrics-addr", ":9090", "Prometheus metrics listen address")
	cmd.Flags().StringVar(&flagMgmtSocket, "mgmt-socket", "/var/run/feedhandler.sock", "management surface Unix domain socket path")

	// spec.md §6 names both -h and -? as the usage flag; cobra already
	// wires -h/--help, so -? is added as a second spelling of the same
	// request rather than a flag of its own.
	cmd.Flags().BoolVarP(&flagUsageAlt, "usage", "?", false, "show help")

	return cmd
}

func run() error {
	if flagVersion {
		fmt.Println(version)
		return nil
	}
	if flagProcess == "" {
		return fmt.Errorf("configuration error: -p <process> is required")
	}

	logLevel := hclog.Info
	if flagDebug {
		logLevel = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{Name: "feedhandler", Level: logLevel})

	v := viper.New()
	v.SetConfigFile(flagConfigFile)
	if err := v.ReadInConfig(); err != nil {
		logger.Error("configuration error: read config file", "err", err)
		return fmt.Errorf("configuration error: %w", err)
	}
	venue, err := config.Load(v, flagVenueKey)
	if err != nil {
		logger.Error("configuration error: load venue", "err", err)
		return fmt.Errorf("configuration error: %w", err)
	}
	procCfg, lineCfgs, err := venue.ResolveProcess(flagProcess)
	if err != nil {
		logger.Error("configuration error: resolve process", "err", err)
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)

	proc, err := buildProcess(flagProcess, venue, procCfg, lineCfgs, logger)
	if err != nil {
		return fmt.Errorf("startup failure: %w", err)
	}

	go serveMetrics(flagMetrics, logger)

	if !flagStandalone {
		mgmt := mgmtsock.New(flagMgmtSocket, proc, version, logger)
		if err := mgmt.Listen(); err != nil {
			return fmt.Errorf("startup failure: listen on management socket: %w", err)
		}
		go func() {
			if err := mgmt.Serve(ctx); err != nil {
				logger.Error("management surface exited", "err", err)
			}
		}()
	}

	for i, lineCfg := range lineCfgs {
		if lineCfg.Protocol != config.ProtocolASCIISession {
			continue
		}
		ln := proc.Lines[i]
		eng := sessionEngineFor(ln, lineCfg, proc, logger)
		go func() {
			if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("session engine exited", "line", ln.Name, "err", err)
			}
		}()
	}

	logger.Info("feedhandler started", "process", flagProcess, "lines", len(lineCfgs))
	err = proc.Run(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func watchSignals(cancel context.CancelFunc) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	cancel()
}

func serveMetrics(addr string, logger hclog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "err", err)
	}
}

// buildProcess constructs a line.Process wired per lineCfgs: a Parser
// chosen by each line's Protocol and sockets opened for multicast venues.
// Venue C lines get no socket here: sessionEngineFor gives each one a
// socketless Session Connection, and its session.Engine dials, logs in
// and reads the TCP stream itself.
func buildProcess(name string, venue *config.Venue, procCfg config.ProcessConfig, lineCfgs []config.LineConfig, logger hclog.Logger) (*line.Process, error) {
	var symbols *symboltable.Table
	if venue.SymbolTable.Enabled {
		symbols = symboltable.New(venue.SymbolTable.Size, func(occupied, capacity int) {
			logger.Warn("symbol table occupancy at or above 90%", "occupied", occupied, "capacity", capacity)
		})
	}
	var orders *ordertable.Table
	if venue.OrderTable.Enabled {
		orders = ordertable.New(venue.OrderTable.Size, func(occupied, capacity int) {
			logger.Warn("order table occupancy at or above 90%", "occupied", occupied, "capacity", capacity)
		})
	}
	var gaps *gaplist.List
	if venue.FillGaps.Max > 0 {
		gaps = gaplist.New(venue.FillGaps.Max, time.Duration(venue.FillGaps.TimeoutSeconds)*time.Second)
	}

	hooks := line.NewHooks()
	sink.Wire(hooks, sink.NewLogSink(logger))

	proc := line.NewProcess(name, symbols, orders, gaps, hooks)

	for i, lineCfg := range lineCfgs {
		lineName := procCfg.Lines[i]
		ln := line.NewLine(lineName)

		parser, err := parserFor(lineCfg.Protocol, symbols, orders, gaps)
		if err != nil {
			return nil, err
		}

		if lineCfg.Protocol != config.ProtocolASCIISession {
			if err := wireMulticastConnections(ln, lineCfg, parser); err != nil {
				return nil, err
			}
		}

		proc.Lines = append(proc.Lines, ln)
		hooks.DispatchLhInit(ln)
	}

	hooks.DispatchCfgLoaded()
	return proc, nil
}

func parserFor(p config.Protocol, symbols *symboltable.Table, orders *ordertable.Table, gaps *gaplist.List) (line.Parser, error) {
	switch p {
	case config.ProtocolPitch:
		return pitch.NewParser(symbols, orders, gaps), nil
	case config.ProtocolMoldUDP64:
		return moldudp64.NewParser(symbols, orders, gaps), nil
	case config.ProtocolASCIISession:
		return asciisession.NewParser(symbols, orders, gaps), nil
	default:
		return nil, fmt.Errorf("unrecognized protocol %q", p)
	}
}

func wireMulticastConnections(ln *line.Line, lineCfg config.LineConfig, parser line.Parser) error {
	primarySock, err := mcast.EndpointSocket(lineCfg.Primary)
	if err != nil {
		return fmt.Errorf("line %q: primary socket: %w", ln.Name, err)
	}
	if primarySock != nil {
		ln.Primary = line.NewConnection(line.Primary, primarySock, parser, 64*1024)
	}

	secondarySock, err := mcast.EndpointSocket(lineCfg.Secondary)
	if err != nil {
		return fmt.Errorf("line %q: secondary socket: %w", ln.Name, err)
	}
	if secondarySock != nil {
		ln.Secondary = line.NewConnection(line.Secondary, secondarySock, parser, 64*1024)
	}
	return nil
}

func sessionEngineFor(ln *line.Line, lineCfg config.LineConfig, proc *line.Process, logger hclog.Logger) *session.Engine {
	parser, _ := parserFor(config.ProtocolASCIISession, proc.Symbols, proc.Orders, proc.Gaps)
	addr := fmt.Sprintf("%s:%d", lineCfg.Primary.Address, lineCfg.Primary.Port)
	creds := session.Credentials{Name: lineCfg.Login.Name, Password: lineCfg.Login.Password, DesiredSeq: ln.NextSeq}
	dial := mcast.NewTCPDialer(5 * time.Second)
	eng := session.NewEngine(addr, creds, dial, ln, parser, proc.Hooks, logger.Named(ln.Name))
	eng.Conn = line.NewConnection(line.Session, nil, parser, 0)
	ln.Session = eng.Conn
	return eng
}
