package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/preflight/preflight/internal/config"
	"github.com/preflight/preflight/internal/eventbus"
	"github.com/preflight/preflight/internal/gitadapter"
	"github.com/preflight/preflight/internal/httpapi"
	"github.com/preflight/preflight/internal/logging"
	"github.com/preflight/preflight/internal/mcpclient"
	"github.com/preflight/preflight/internal/mcptools"
	"github.com/preflight/preflight/internal/presence"
	"github.com/preflight/preflight/internal/review"
	"github.com/preflight/preflight/internal/snapshot"
)

// buildVersion is stamped at build time via -ldflags, mirroring the
// teacher's cmd/cr version threading.
var buildVersion = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "preflight: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand()
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "preflight",
		Short: "Local code-review loop for a human and an AI agent",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	var port int
	var fresh bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP+WS server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, fresh)
		},
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config/env default)")
	serveCmd.Flags().BoolVar(&fresh, "fresh", false, "discard the existing snapshot before starting")
	root.AddCommand(serveCmd)

	var mcpPort int
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool-server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), mcpPort)
		},
	}
	mcpCmd.Flags().IntVar(&mcpPort, "port", 0, "port of the running serve instance to connect to")
	root.AddCommand(mcpCmd)

	return root
}

func loadConfig(overridePort int) (config.Config, error) {
	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: defaultConfigPaths()})
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if overridePort != 0 {
		cfg.Server.Port = overridePort
	}
	return cfg, nil
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	return paths
}

// runServe wires config, logging, snapshot, event bus, presence and the
// review service into an HTTP server, and runs it until ctx is cancelled.
func runServe(ctx context.Context, overridePort int, fresh bool) error {
	cfg, err := loadConfig(overridePort)
	if err != nil {
		return err
	}

	log := logging.New(logging.ParseLevel(cfg.Log.Level), logging.ParseFormat(cfg.Log.Format))

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	store, err := snapshot.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open snapshot store at %s: %w", cfg.Store.Path, err)
	}
	if fresh {
		if err := store.Reset(); err != nil {
			return fmt.Errorf("reset snapshot store: %w", err)
		}
		log.LogInfo("snapshot reset", "path", cfg.Store.Path)
	}

	bus := eventbus.New()
	tracker := presence.New(bus)
	svc := review.New(store, bus, tracker, func(repoPath string) review.GitAdapter {
		return gitadapter.New(repoPath)
	})

	httpapi.Version = buildVersion
	srv := httpapi.NewServer(svc, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.LogInfo("serving", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.LogInfo("shutting down")
		bus.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-serveErr:
		return err
	}
}

// runMCP connects to an already-running `preflight serve` instance over
// HTTP(+WS) and drives the MCP tool registry over a stdio JSON-RPC
// transport. It never touches the snapshot store directly: every tool
// call is a request against the serve instance's HTTP API, so the agent
// sees exactly the state and events a human is watching in the browser.
func runMCP(ctx context.Context, overridePort int) error {
	cfg, err := loadConfig(overridePort)
	if err != nil {
		return err
	}

	log := logging.New(logging.ParseLevel(cfg.Log.Level), logging.ParseFormat(cfg.Log.Format))

	client := mcpclient.NewClient(cfg.Server.Port)
	server := mcptools.NewServer(mcptools.NewRegistry(client), log)
	return server.Serve(ctx, os.Stdin, os.Stdout)
}
