package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/linechat/internal/server"
)

type options struct {
	host         string
	httpAddr     string
	idleTimeout  time.Duration
	reapInterval time.Duration
	maxLine      int
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "linechat [port]",
		Short: "Line-oriented multi-client chat relay",
		Long: `linechat relays newline-terminated chat commands between TCP clients.

The port is taken from the first argument, then the CHAT_PORT environment
variable, then defaults to 4000. The same protocol is served over WebSocket
at /ws on the HTTP address, next to /healthz and /metrics.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, newLogger(opts.logLevel))
		},
	}

	bindFlags(cmd.Flags(), opts)
	return cmd
}

func bindFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVar(&opts.host, "host", server.DefaultHost, "interface to bind the line listener to")
	flags.StringVar(&opts.httpAddr, "http-addr", server.DefaultHTTPAddr, "address for health, metrics and websocket; empty disables")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", server.DefaultIdleTimeout, "disconnect sessions idle for longer than this")
	flags.DurationVar(&opts.reapInterval, "reap-interval", server.DefaultReapInterval, "how often idle sessions are checked")
	flags.IntVar(&opts.maxLine, "max-line", 0, "maximum line length in bytes (0 keeps the default)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// buildConfig layers the environment and then explicitly set flags over the
// defaults. A positional port replaces CHAT_PORT, which is then not read.
func buildConfig(cmd *cobra.Command, opts *options, args []string) (server.Config, error) {
	var cfg *server.Config
	if len(args) == 1 {
		port, err := server.ParsePort(args[0])
		if err != nil {
			return server.Config{}, fmt.Errorf("invalid port number %q: %w", args[0], err)
		}
		cfg = server.NewConfigWithPort(port)
	} else {
		var err error
		if cfg, err = server.NewConfigFromEnv(); err != nil {
			return server.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = opts.httpAddr
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = opts.idleTimeout
	}
	if flags.Changed("reap-interval") {
		cfg.ReapInterval = opts.reapInterval
	}
	if flags.Changed("max-line") && opts.maxLine > 0 {
		cfg.MaxLineSize = opts.maxLine
	}

	return *cfg, nil
}

func run(ctx context.Context, cfg server.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := server.NewMetrics()
	chat := server.NewServer(cfg, server.WithLogger(logger), server.WithMetrics(metrics))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chat.ListenAndServe(ctx)
	})

	if cfg.HTTPAddr != "" {
		httpServer := server.CreateServer(cfg.HTTPAddr, server.SetupRoutes(chat))
		g.Go(func() error {
			return server.RunHTTPServer(ctx, httpServer, cfg.ShutdownTimeout, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
