package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/chatstore"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/httpapi"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/ingest"
	"github.com/docsage/docsage/internal/mcp"
	"github.com/docsage/docsage/internal/pipeline"
	"github.com/docsage/docsage/internal/providers"
	"github.com/docsage/docsage/internal/telemetry"
	"github.com/docsage/docsage/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat service and ingestion scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// openChatStore selects the backend: a configured postgres DSN wins,
// otherwise the embedded sqlite file under data_root.
func openChatStore(cfg *config.Config) (*chatstore.Store, error) {
	if dsn := cfg.Services.Database.PostgresDSN; dsn != "" {
		return chatstore.OpenPostgres(dsn)
	}
	return chatstore.OpenSQLite(cfg.Services.Database.SQLitePath)
}

// openCorpus opens the content catalog and the search index over it.
func openCorpus(cfg *config.Config) (*catalog.Store, *index.Index, error) {
	cat, err := catalog.NewStore(cfg.Global.DataRoot)
	if err != nil {
		return nil, nil, err
	}
	embedder := providers.NewOpenAIEmbedder(
		cfg.DataManager.EmbeddingModel,
		cfg.DataManager.EmbeddingAPIKey,
		cfg.DataManager.EmbeddingBase,
		cfg.DataManager.EmbeddingDim,
	)
	idx, err := index.Open(cfg.DataManager, embedder)
	if err != nil {
		return nil, nil, err
	}
	return cat, idx, nil
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Services.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	cat, idx, err := openCorpus(cfg)
	if err != nil {
		slog.Error("failed to open corpus", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	store, err := openChatStore(cfg)
	if err != nil {
		slog.Error("failed to open chat store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rt := config.NewRuntime(cfg)
	if err := rt.Watch(cfgPath, ctx.Done()); err != nil {
		slog.Warn("config watch disabled", "error", err)
	}

	prompts, err := pipeline.LoadPrompts(cfg.Assistant)
	if err != nil {
		slog.Error("failed to load prompts", "error", err)
		os.Exit(1)
	}
	models := pipeline.NewModelSet(cfg)

	mcpMgr := mcp.NewManager(cfg.Utils.MCPServers)
	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("mcp startup incomplete", "error", err)
	}
	defer mcpMgr.Stop()

	newTools := func(turn pipeline.Turn) *tools.Registry {
		reg := tools.NewRegistry()
		reg.Register(tools.NewRetrievalTool(idx, cfg.Assistant.RetrievalK, turn.Filter,
			index.DefaultLexicalWeight, index.DefaultSemanticWeight))
		reg.Register(tools.NewWebFetchTool(0))
		for _, t := range mcpMgr.Tools() {
			reg.Register(t)
		}
		return reg
	}

	safety := pipeline.NewSafetyHook(cfg.Assistant.Safety)
	exec := pipeline.NewExecutor(cfg, store, idx, safety,
		pipeline.NewQAPipeline(cfg, rt, models, prompts, idx),
		pipeline.NewGradingPipeline(cfg, models, prompts, idx),
		pipeline.NewImagePipeline(cfg, models, prompts),
		pipeline.NewAgentPipeline(cfg, rt, models, prompts, newTools),
	)

	mgr := ingest.NewManager(cat, idx)
	mgr.Configure(cfg)
	sched := ingest.NewScheduler(mgr)
	sched.Reload()
	go sched.Run(ctx)

	api := httpapi.NewServer(cfg, rt, store, cat, idx, exec, mgr, sched)
	server := &http.Server{
		Addr:    api.Addr(),
		Handler: api.Routes(),
	}

	go func() {
		slog.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
}
