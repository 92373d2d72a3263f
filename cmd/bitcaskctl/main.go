// Command bitcaskctl inspects and edits a bitcask directory from the shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/INLOpen/bitcask/config"
	"github.com/INLOpen/bitcask/engine"
	"github.com/INLOpen/bitcask/hooks"
	"github.com/INLOpen/bitcask/hooks/listeners"
	"github.com/INLOpen/bitcask/sys"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const usage = `usage: bitcaskctl [flags] <command> [args]

commands:
  put <key> <value>   store a value (needs -rw)
  get <key>           print a value
  delete <key>        delete a key (needs -rw)
  keys                list live keys
  fold                print every live key and value
  files               list readable data files
  locks               show the write and merge lock files
  export <file|->     write a compressed snapshot
  import <file|->     load a snapshot (needs -rw)

flags:
`

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
// It sets up an exporter based on the configuration to send traces to a collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc", "":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("bitcaskctl")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// newHookManager registers the listeners enabled in cfg.
func newHookManager(cfg config.ListenersConfig, logger *slog.Logger) hooks.HookManager {
	hm := hooks.NewHookManager(logger)
	if cfg.RotationMetrics {
		hm.Register(hooks.EventPostLogFileRotate, listeners.NewRotationListener(logger))
	}
	if cfg.LargeValueThresholdBytes > 0 {
		hm.Register(hooks.EventPostPut, listeners.NewLargeValueAlerterListener(logger, cfg.LargeValueThresholdBytes))
	}
	if len(cfg.KeyPolicies) > 0 {
		rules := make([]listeners.KeyPolicyRule, 0, len(cfg.KeyPolicies))
		for _, p := range cfg.KeyPolicies {
			rules = append(rules, listeners.KeyPolicyRule{Prefix: p.Prefix, MaxValueSize: p.MaxValueSize, Deny: p.Deny})
		}
		hm.Register(hooks.EventPrePut, listeners.NewKeyPolicyListener(logger, rules))
	}
	return hm
}

type cli struct {
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bitcaskctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "Path to the configuration file")
	dir := fs.String("dir", "", "Store directory (overrides engine.data_dir)")
	readWrite := fs.Bool("rw", false, "Open the store read-write")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	var cfg *config.Config
	var err error
	if *configPath == "" {
		cfg, err = config.Load(nil)
	} else {
		cfg, err = config.LoadConfig(*configPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *dir != "" {
		cfg.Engine.DataDir = *dir
	}
	if *readWrite {
		cfg.Engine.ReadWrite = true
	}
	if cfg.Engine.DataDir == "" {
		fmt.Fprintln(stderr, "Error: no store directory; set -dir or engine.data_dir.")
		return 1
	}

	logger, logCloser, err := createLogger(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	sys.SetDebugMode(cfg.Engine.DebugFiles)

	c := &cli{cfg: cfg, logger: logger, stdin: stdin, stdout: stdout, stderr: stderr}
	if err := c.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// withStore opens the configured store, runs fn and closes the store.
func (c *cli) withStore(ctx context.Context, fn func(s *engine.Store) error) (err error) {
	tp, tracerCleanup, err := initTracerProvider(c.cfg.Tracing, c.logger)
	if err != nil {
		return err
	}
	defer tracerCleanup()

	hm := newHookManager(c.cfg.Listeners, c.logger)
	defer hm.Stop()

	opts := c.cfg.EngineOptions(c.logger)
	opts.HookManager = hm
	opts.TracerProvider = tp
	opts.Metrics = engine.NewEngineMetrics(false, "")

	s, err := engine.Open(ctx, c.cfg.Engine.DataDir, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
