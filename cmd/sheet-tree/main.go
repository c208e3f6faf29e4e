package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/sheet-tree/internal/auth"
	"github.com/alexjbarnes/sheet-tree/internal/config"
	"github.com/alexjbarnes/sheet-tree/internal/logging"
	"github.com/alexjbarnes/sheet-tree/internal/mcpserver"
	"github.com/alexjbarnes/sheet-tree/internal/orchestrator"
	"github.com/alexjbarnes/sheet-tree/internal/persist"
	"github.com/alexjbarnes/sheet-tree/internal/server"
	"github.com/alexjbarnes/sheet-tree/internal/state"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const usage = `usage: sheet-tree [command]

commands:
  run            serve the tree (default)
  outline        print the stored tree
  plan           print what a refresh would change
  hash-password  hash an API key read from stdin (-generate makes one)
`

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error

	// hash-password runs before config loading.
	switch cmd {
	case "hash-password":
		err = hashPassword(os.Args[2:])
	case "run":
		err = run()
	case "outline":
		err = outline()
	case "plan":
		err = plan()
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.ValidateHTTP(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("sheet-tree starting",
		slog.String("version", Version),
		slog.String("workbook", cfg.WorkbookDir),
		slog.String("document", cfg.DocumentID),
		slog.Bool("watch", cfg.Watch),
		slog.Bool("http", cfg.EnableHTTP),
	)

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	book, err := workbook.OpenDir(cfg.WorkbookDir, logger.With(slog.String("service", "workbook")), workbook.WithWatch(cfg.Watch))
	if err != nil {
		return fmt.Errorf("opening workbook: %w", err)
	}

	saver := persist.NewSaver(appState.Settings(cfg.DocumentID), cfg.SettingsKey, cfg.StorageWarnBytes, logger)

	ocfg := orchestrator.Config{
		Host:       book,
		Store:      saver,
		Logger:     logger.With(slog.String("service", "tree")),
		SaveWindow: cfg.SaveDebounce,
		Notifier:   logNotifier(logger),
	}

	var hub *server.Hub
	if cfg.EnableHTTP {
		hub = server.NewHub(logger.With(slog.String("service", "ws")))
		ocfg.Notifier = hub
		ocfg.Renderer = hub
	}

	orch := orchestrator.New(ocfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(orch.Run(gctx))
	})

	if cfg.Watch {
		g.Go(func() error {
			return ignoreCanceled(book.Watch(gctx))
		})
	}

	if cfg.EnableHTTP {
		hub.Attach(orch)

		g.Go(func() error {
			return serveHTTP(gctx, cfg, orch, hub, logger)
		})
	}

	return g.Wait()
}

// serveHTTP runs the MCP endpoint and the tree view websocket until ctx
// is cancelled.
func serveHTTP(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, hub *server.Hub, logger *slog.Logger) error {
	httpLogger := logger.With(slog.String("service", "http"))

	entries, err := cfg.ParseAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing API keys: %w", err)
	}

	hashes := make(map[string]string, len(entries))
	for _, e := range entries {
		hashes[e.UserID] = e.Hash
	}

	keys, err := auth.NewKeys(hashes)
	if err != nil {
		return fmt.Errorf("loading API keys: %w", err)
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "sheet-tree", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, orch)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			Keys:       keys,
			MCPHandler: mcpHandler,
			Hub:        hub,
			Status:     orch,
			Logger:     httpLogger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	httpLogger.Info("starting HTTP server",
		slog.String("listen", cfg.ListenAddr),
		slog.Int("keys", keys.Len()),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		httpLogger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// logNotifier writes user notices to the log when no tree view is served.
func logNotifier(logger *slog.Logger) orchestrator.NotifierFunc {
	return func(m orchestrator.Message) {
		level := slog.LevelInfo

		switch m.Level {
		case orchestrator.LevelWarning:
			level = slog.LevelWarn
		case orchestrator.LevelError:
			level = slog.LevelError
		}

		logger.Log(context.Background(), level, m.Text, slog.String("notice", string(m.Level)))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
