package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashwinrachhavt/code-review-agent/internal/config"
	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/llm"
	"github.com/ashwinrachhavt/code-review-agent/internal/pipeline"
	"github.com/ashwinrachhavt/code-review-agent/internal/server"
	"github.com/ashwinrachhavt/code-review-agent/internal/session"
	"github.com/ashwinrachhavt/code-review-agent/internal/store"
	"github.com/ashwinrachhavt/code-review-agent/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	st := store.NewFromEnv(cfg.PostgresDSN, cfg.SQLitePath)
	defer st.Close()

	archive := newArchive(cfg)
	sessions := session.NewManager(st, archive)

	client := newLLMClient(ctx, cfg)
	if client != nil {
		defer client.Close()
		log.Printf("llm: using %s", client.Name())
	} else {
		log.Printf("llm: no provider configured, reports fall back to tool results")
	}

	orch := pipeline.New(pipeline.Env{
		LLM: client,
		Adapters: []tools.Adapter{
			&tools.SemgrepAdapter{Bin: cfg.Tools.SemgrepBin},
			&tools.BanditAdapter{Bin: cfg.Tools.BanditBin},
			&tools.PatternAdapter{},
			&tools.ComplexityAdapter{},
		},
		Sessions:      sessions,
		ToolTimeout:   cfg.Tools.Timeout,
		RouterTimeout: cfg.LLM.RouterBudget,
		RunBudget:     cfg.Run.Budget,
		MaxFiles:      cfg.Run.MaxFiles,
		MaxTotalBytes: cfg.Run.MaxTotalBytes,
		HistoryLimit:  cfg.Run.HistoryLimit,
	})

	handler := server.NewHandler(orch, sessions, event.NewBroker())
	srv := server.New(cfg.Port, server.NewMux(handler))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func newArchive(cfg *config.Config) *store.ReportArchive {
	if !cfg.Archive.Enabled {
		return nil
	}
	archive, err := store.NewReportArchive(store.S3Config{
		Endpoint:  cfg.Archive.Endpoint,
		Region:    cfg.Archive.Region,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Bucket:    cfg.Archive.Bucket,
		UseSSL:    cfg.Archive.UseSSL,
	})
	if err != nil {
		log.Printf("archive: disabled (%v)", err)
		return nil
	}
	return archive
}

func newLLMClient(ctx context.Context, cfg *config.Config) llm.Client {
	switch cfg.LLM.Provider {
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, cfg.LLM.GeminiModel)
		if err != nil {
			log.Printf("llm: gemini init failed (%v)", err)
			return nil
		}
		return client
	case "groq":
		return llm.NewGroqClient(cfg.LLM.GroqAPIKey, cfg.LLM.GroqModel)
	case "fake":
		return &llm.FakeClient{Reply: "Fake analysis reply for local development."}
	default:
		log.Printf("llm: unknown provider %q", cfg.LLM.Provider)
		return nil
	}
}
