package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	natsconn "github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/gate"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/nodes/core"
	"github.com/wehubfusion/Daedalus/pkg/nodes/script"
	"github.com/wehubfusion/Daedalus/pkg/nodes/text"
	"github.com/wehubfusion/Daedalus/pkg/report"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// Exit codes returned through ExitError.
const (
	ExitFailed   = 1
	ExitFatal    = 2
	ExitCanceled = 130
)

// ExitError carries the process exit code of a finished run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

type runFlags struct {
	maxConcurrency    int
	sequential        bool
	streamMode        string
	maxLoopIterations int
	paused            bool

	natsURL          string
	sentryDSN        string
	otlpEndpoint     string
	reportFile       string
	reportContainer  string
	reportConnection string
	metricsFile      string
}

// NewRunCmd creates the run command.
func NewRunCmd(opts *Options) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run GRAPH_FILE",
		Short: "Execute a graph",
		Long: `Execute a graph snapshot (YAML or JSON).

With --paused the run waits before its first node. Commands read from stdin
control it: "step" (or an empty line) admits one node, "resume" runs freely,
"pause" pauses again and "quit" cancels the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, opts, &f, args[0])
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.maxConcurrency, "max-concurrency", 0, "Maximum concurrently running nodes (default from environment)")
	fl.BoolVar(&f.sequential, "sequential", false, "Run layer nodes one at a time")
	fl.StringVar(&f.streamMode, "stream-mode", "", "Default stream mode: sequential or concurrent")
	fl.IntVar(&f.maxLoopIterations, "max-loop-iterations", 0, "Loop iteration ceiling (default from environment)")
	fl.BoolVar(&f.paused, "paused", false, "Start paused and read step commands from stdin")
	fl.StringVar(&f.natsURL, "nats-url", "", "Publish progress events to this NATS server")
	fl.StringVar(&f.sentryDSN, "sentry-dsn", os.Getenv("SENTRY_DSN"), "Report failures to Sentry")
	fl.StringVar(&f.otlpEndpoint, "otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint (host:port)")
	fl.StringVar(&f.reportFile, "report-file", "", "Write the run report as JSON to this file")
	fl.StringVar(&f.reportContainer, "report-container", "", "Upload the run report to this Azure Blob container")
	fl.StringVar(&f.reportConnection, "report-connection-string", os.Getenv("AZURE_STORAGE_CONNECTION_STRING"), "Azure Storage connection string")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")

	return cmd
}

func runGraph(cmd *cobra.Command, opts *Options, f *runFlags, path string) error {
	logger, err := NewLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	undo := concurrency.InitializeForKubernetes(logger)
	defer undo()

	g, err := graph.LoadFile(path)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}

	cfg, err := buildConfig(cmd, f)
	if err != nil {
		return err
	}

	engine := script.NewEngine(script.DefaultPoolConfig())
	defer func() { _ = engine.Close() }()
	reg := NewRegistry(engine)
	if err := reg.Validate(g); err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := tracing.DefaultConfig("daedalus")
	tcfg.OTLPEndpoint = ""
	tcfg = tracing.ConfigFromEnv(tcfg)
	if f.otlpEndpoint != "" {
		tcfg.OTLPEndpoint = f.otlpEndpoint
	}
	shutdownTracing, err := tracing.SetupTracing(ctx, tcfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tracing.ShutdownTracing(shutdownTracing, logger) }()

	builder := report.NewBuilder()
	observers := telemetry.Fanout{telemetry.NewLogSink(logger), builder}

	promReg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetricsSink(promReg)
	if err != nil {
		return err
	}
	observers = append(observers, metrics)

	if f.natsURL != "" {
		nc := natsconn.DefaultConnectionConfig(f.natsURL)
		conn, err := natsconn.Connect(ctx, nc, logger)
		if err != nil {
			return err
		}
		defer func() { _ = natsconn.Close(conn) }()
		observers = append(observers, telemetry.NewNATSSink(conn, nc.Subject, logger))
	}

	if f.sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: f.sentryDSN, Environment: tcfg.Environment}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		observers = append(observers, telemetry.NewSentrySink(nil))
	}

	cfg = cfg.
		WithLogger(logger).
		WithObserver(observers).
		WithServices(runtime.ServiceMap{core.StdoutService: cmd.OutOrStdout()})
	rt, err := runtime.New(reg, cfg)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer rt.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if f.paused {
		go stepControl(runCtx, cmd.InOrStdin(), rt.Gate(), cancel, cmd.ErrOrStderr())
	}

	res, runErr := rt.Execute(runCtx, g)

	rep := builder.Report()
	if err := saveReport(ctx, rep, f, logger); err != nil {
		logger.Error("Failed to save run report", zap.Error(err))
	}
	if f.metricsFile != "" {
		if err := prometheus.WriteToTextfile(f.metricsFile, promReg); err != nil {
			logger.Error("Failed to write metrics", zap.Error(err))
		}
	}

	printSummary(cmd.ErrOrStderr(), res, rep)
	if opts.JSON {
		data, err := rep.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	}
	return exitError(runErr)
}

func buildConfig(cmd *cobra.Command, f *runFlags) (runtime.Config, error) {
	cfg := runtime.ConfigFromEnv(nil)
	fl := cmd.Flags()
	if fl.Changed("max-concurrency") {
		cfg = cfg.WithMaxConcurrency(f.maxConcurrency)
	}
	if fl.Changed("sequential") {
		cfg = cfg.WithParallel(!f.sequential)
	}
	if fl.Changed("stream-mode") {
		cfg = cfg.WithStreamMode(graph.StreamMode(f.streamMode))
	}
	if fl.Changed("max-loop-iterations") {
		cfg = cfg.WithMaxLoopIterations(f.maxLoopIterations)
	}
	cfg = cfg.WithStartPaused(f.paused)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NewRegistry returns a registry holding every built-in node kind.
func NewRegistry(engine *script.Engine) *nodes.Registry {
	reg := nodes.NewRegistry()
	core.Register(reg)
	text.Register(reg)
	script.Register(reg, engine)
	return reg
}

// stepControl drives a paused run from line commands.
func stepControl(ctx context.Context, in io.Reader, g *gate.Gate, cancel context.CancelFunc, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line {
			case "", "s", "step":
				if err := g.StepOnce(); err != nil {
					fmt.Fprintln(out, err)
				}
			case "r", "resume":
				g.Resume()
			case "p", "pause":
				g.Pause()
			case "q", "quit":
				cancel()
				return
			default:
				fmt.Fprintf(out, "unknown command %q (step, resume, pause, quit)\n", line)
			}
		}
	}
}

func saveReport(ctx context.Context, rep *report.Report, f *runFlags, logger *zap.Logger) error {
	var errs []error
	if f.reportFile != "" {
		data, err := rep.JSON()
		if err == nil {
			err = os.WriteFile(f.reportFile, data, 0o644)
		}
		errs = append(errs, err)
	}
	if f.reportContainer != "" {
		client, err := report.NewAzureBlobClient(f.reportConnection, f.reportContainer, logger)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		// the run context may already be canceled; the upload gets its own deadline
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_, err = report.NewStore(client, logger).Save(uploadCtx, rep)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func printSummary(w io.Writer, res *runtime.Result, rep *report.Report) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "run %s %s in %s (%d nodes completed, %d failed)\n",
		res.RunID, res.Status, res.Duration.Round(time.Millisecond),
		res.Stats.NodesCompleted, res.Stats.NodesFailed)
	if res.StopReason != "" {
		fmt.Fprintf(w, "stopped: %s\n", res.StopReason)
	}
	for _, id := range rep.Order() {
		n := rep.Nodes[id]
		if n.Error != nil {
			fmt.Fprintf(w, "  %s: [%s] %s\n", n.Meta.Name, n.Error.Code, n.Error.Message)
		}
	}
}

// exitError maps a run error to the process exit code.
func exitError(err error) error {
	switch {
	case err == nil:
		return nil
	case daerrors.IsCancellation(err):
		return &ExitError{Code: ExitCanceled, Err: err}
	case daerrors.IsFatal(err):
		return &ExitError{Code: ExitFatal, Err: err}
	}
	return &ExitError{Code: ExitFailed, Err: err}
}
