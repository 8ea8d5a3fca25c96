package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	websearchchat "github.com/MegaGrindStone/websearch-chat"
	"github.com/MegaGrindStone/websearch-chat/internal/agents"
	"github.com/MegaGrindStone/websearch-chat/internal/chat"
	"github.com/MegaGrindStone/websearch-chat/internal/handlers"
	"github.com/MegaGrindStone/websearch-chat/internal/services"
)

const errLoggerKey = "err"

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgFilePath := filepath.Join(cfgDir, "websearchchat", "config.yaml")

	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.logger()
	if err != nil {
		log.Fatal(err)
	}

	mcpCtx, mcpCancel := context.WithCancel(context.Background())
	searcher, stdIOCmd, err := newSearcher(mcpCtx, cfg.Search, logger)
	if err != nil {
		logger.Error("Failed to create searcher", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}

	fetcher := services.NewFetcher(&http.Client{Timeout: cfg.Fetch.Timeout}, logger)

	// Every API key gets its own model client; searcher and fetcher are shared by all sessions.
	factory := func(ctx context.Context, apiKey string) (chat.Pipeline, error) {
		llm, err := cfg.LLM.llm(ctx, apiKey, logger)
		if err != nil {
			return nil, fmt.Errorf("error creating llm: %w", err)
		}
		return agents.NewPipeline(llm, searcher, fetcher, agents.PipelineConfig{
			MaxSteps:     cfg.Agent.MaxSteps,
			MaxResults:   cfg.Search.MaxResults,
			SystemPrompt: cfg.Agent.SystemPrompt,
			Logger:       logger,
		}), nil
	}

	m, err := handlers.NewMain(chat.NewSessions(cfg.Greeting, factory), cfg.Page.page(), logger)
	if err != nil {
		logger.Error("Failed to create handlers", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}

	// Serve static files
	staticFS, err := fs.Sub(websearchchat.StaticFS, "static")
	if err != nil {
		logger.Error("Failed to open static files", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/apikey", m.HandleAPIKey)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}

		mcpCancel()
		if stdIOCmd != nil {
			if err := stdIOCmd.Wait(); err != nil {
				logger.Warn("Failed to wait for stdio command", slog.String(errLoggerKey, err.Error()))
			}
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String(errLoggerKey, err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}
}

// newSearcher creates the configured search provider. For an MCP server reached over stdio it also
// returns the started server process, which ends when ctx is cancelled.
func newSearcher(ctx context.Context, cfg searchConfig, logger *slog.Logger) (agents.Searcher, *exec.Cmd, error) {
	switch cfg.Provider {
	case "", "duckduckgo":
		return services.NewDuckDuckGo(cfg.Endpoint, &http.Client{Timeout: 30 * time.Second}, logger), nil, nil
	case "mcp":
	default:
		return nil, nil, fmt.Errorf("unknown search provider: %s", cfg.Provider)
	}

	if cfg.MCP.Tool == "" {
		return nil, nil, fmt.Errorf("mcp search tool is required")
	}

	info := mcp.Info{
		Name:    "websearch-chat",
		Version: "0.1.0",
	}

	var cli *mcp.Client
	var cmd *exec.Cmd
	switch {
	case cfg.MCP.URL != "":
		cli = mcp.NewClient(info, mcp.NewSSEClient(cfg.MCP.URL, nil))
	case cfg.MCP.Command != "":
		cmd = exec.CommandContext(ctx, cfg.MCP.Command, cfg.MCP.Args...)
		in, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("error creating stdin pipe: %w", err)
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("error creating stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, fmt.Errorf("error starting mcp server: %w", err)
		}
		cli = mcp.NewClient(info, mcp.NewStdIO(out, in))
	default:
		return nil, nil, fmt.Errorf("mcp search requires a url or a command")
	}

	logger.Info("Connecting to MCP server")
	if err := services.ConnectMCP(ctx, cli); err != nil {
		return nil, cmd, err
	}
	logger.Info("Connected to MCP server", slog.String("name", cli.ServerInfo().Name))

	return services.NewMCPSearch(cli, cfg.MCP.Tool, cfg.MCP.QueryArg, cfg.MCP.CountArg, logger), cmd, nil
}
