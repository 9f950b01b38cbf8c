package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kkkrraamm/api-aldlma-ai/internal/agent"
	"github.com/kkkrraamm/api-aldlma-ai/internal/config"
	"github.com/kkkrraamm/api-aldlma-ai/internal/conversation"
	"github.com/kkkrraamm/api-aldlma-ai/internal/logger"
	"github.com/kkkrraamm/api-aldlma-ai/internal/observability"
	"github.com/kkkrraamm/api-aldlma-ai/internal/prompt"
	"github.com/kkkrraamm/api-aldlma-ai/internal/storage"
	"github.com/kkkrraamm/api-aldlma-ai/internal/upstream"
	"github.com/kkkrraamm/api-aldlma-ai/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)

	metrics := observability.NewMetrics("dalma")

	backend, err := storage.OpenSQLite(cfg.History.DBPath, cfg.History.MaxBytes)
	var store storage.Backend = backend
	if err != nil {
		logger.L.Warn("sqlite open failed; transcript will not survive restarts", "path", cfg.History.DBPath, "error", err)
		store = storage.NewMemory(cfg.History.MaxBytes)
	}
	defer store.Close()

	history := conversation.NewHistory(store, metrics)
	history.Load(context.Background())

	var provider upstream.Provider
	switch cfg.LLM.Provider {
	case "http":
		provider = upstream.NewHTTPProvider(cfg.LLM)
	default:
		provider = upstream.NewOpenAIProvider(cfg.LLM)
	}
	client := upstream.NewClient(provider, cfg.Retry, metrics)

	builder := prompt.NewBuilder(cfg.LLM.SystemPrompt)
	orchestrator := agent.New(history, client, builder, cfg, metrics)
	server := web.New(orchestrator)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server",
		"address", addr,
		"model", cfg.LLM.Model,
		"provider", cfg.LLM.Provider,
		"upstream_configured", cfg.LLM.APIKey != "",
	)
	if err := http.ListenAndServe(addr, server.Router()); err != nil {
		logger.L.Error("server stopped", "error", err)
	}
}
