package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/prodscribe/internal/api"
	"github.com/kalambet/prodscribe/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "prodscribe version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to start twice on the same port.
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg.Server.Host, cfg.Server.Port) + "/health"); err == nil {
		resp.Body.Close()
		printWarning("prodscribe is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{
		Describer: a.service,
		Fixtures:  a.fixtures,
		Variant:   cfg.Server.Variant,
		Token:     cfg.Server.APIToken,
	}
	if a.store != nil {
		deps.Store = a.store
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := newHTTPServer(ctx, addr, api.NewHandler(deps))

	slog.Info("service configured",
		"variant", cfg.Server.Variant,
		"model", cfg.OpenAI.Model,
		"assistant_id", a.resolver.ID(),
		"run_timeout", cfg.Run.Timeout,
		"history", a.store != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "prodscribe listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// In-flight generations may still be polling; give them the run timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Run.Timeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHTTPServer builds the service listener. Request contexts keep the
// values of ctx but not its cancellation, so a signal leaves in-flight
// generations to Shutdown instead of aborting them.
func newHTTPServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	base := context.WithoutCancel(ctx)
	return &http.Server{
		Addr:    addr,
		Handler: h,
		BaseContext: func(_ net.Listener) context.Context {
			return base
		},
	}
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := api.MCPDeps{
		Describer: a.service,
		Fixtures:  a.fixtures,
		Variant:   cfg.Server.Variant,
		Version:   version,
	}
	if a.store != nil {
		deps.Store = a.store
	}

	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
