// vstore is the command line tool of the version store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage"
	"github.com/xtxerr/versionstore/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vstore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "config file path")
	backend := fs.String("backend", "", "backend kind: memory, file, duckdb (overrides config)")
	path := fs.String("path", "", "backend data path (overrides config)")
	namespace := fs.String("namespace", "", "key namespace (overrides config)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "vstore %s\n\nUsage: vstore [flags] <command> [args]\n\nFlags:\n", Version)
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
		printCommands(stderr)
	}
	if err := fs.Parse(argv); err != nil {
		return errors.CodeUsage
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "vstore: %v\n", err)
		return errors.CodeConfig
	}
	if *backend != "" {
		cfg.Backend.Kind = *backend
	}
	if *path != "" {
		cfg.Backend.Path = *path
	}
	if *namespace != "" {
		cfg.Namespace = *namespace
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "vstore: invalid config: %v\n", err)
		return errors.CodeConfig
	}

	logging.InitWithWriter(stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, out: stdout}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			logging.Error("close store", "error", err)
		}
	}()

	args := fs.Args()
	if len(args) == 0 {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fs.Usage()
			return errors.CodeUsage
		}
		args = []string{"shell"}
	}

	err = a.dispatch(ctx, args)
	switch {
	case err == nil:
		return errors.CodeOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "vstore: %v\n", err)
		return errors.CodeUsage
	default:
		fmt.Fprintf(stderr, "vstore: %v\n", err)
		return errors.ErrorToCode(err)
	}
}

// loadConfig reads path, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", errors.Join(errors.ErrInvalidConfig, err))
	}
	return cfg, nil
}

// =============================================================================
// Application state
// =============================================================================

// app holds the store across the commands of one invocation or shell
// session. The store is opened on first use.
type app struct {
	cfg     *config.Config
	out     io.Writer
	backend *storage.Backend
}

func (a *app) store(ctx context.Context) (*storage.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	b, err := storage.Open(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.backend = b
	return b, nil
}

func (a *app) close(ctx context.Context) error {
	if a.backend == nil {
		return nil
	}
	err := a.backend.Close(ctx)
	a.backend = nil
	return err
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return cmd.run(ctx, a, args[1:])
}
