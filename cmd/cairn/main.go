// Command cairn is the entry point for the Cairn semantic memory service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/jasondostal/cairn-mcp-sub001/internal/app"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/rerank"
	"github.com/jasondostal/cairn-mcp-sub001/internal/config"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings/openai"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm/anyllm"
	llmopenai "github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cairn: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cairn: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("cairn starting",
		"config", *configPath,
		"health_addr", cfg.Server.HealthAddr,
		"log_level", cfg.Server.LogLevel,
		"enhanced_search", cfg.Search.Enhanced,
	)

	// ── Provider registry ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application wiring ───────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("cairn ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ──────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Cairn. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"reranker":   {"local", "cloud"},
}

// registerBuiltinProviders registers the factory functions for every
// provider Cairn ships with.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := llmOpenAIOptions(e)
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		name := name
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(name, e.Model, anyllmOptions(e)...)
		})
	}

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsopenai.New(e.APIKey, e.Model)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(baseURL, e.Model)
	})

	reg.RegisterReranker("local", func(e config.ProviderEntry) (rerank.Reranker, error) {
		return rerank.NewLocal(e.BaseURL, 10*time.Second), nil
	})
	reg.RegisterReranker("cloud", func(e config.ProviderEntry) (rerank.Reranker, error) {
		return rerank.NewCloud(e.BaseURL, nil), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// llmOpenAIOptions translates a config.ProviderEntry's BaseURL into an
// openai.Option, if set.
func llmOpenAIOptions(e config.ProviderEntry) []llmopenai.Option {
	var opts []llmopenai.Option
	if e.BaseURL != "" {
		opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
	}
	return opts
}

// anyllmOptions translates a config.ProviderEntry's APIKey/BaseURL into
// any-llm-go options. Without an APIKey option, any-llm-go falls back to
// the provider's standard environment variable (e.g. OPENAI_API_KEY).
func anyllmOptions(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

// buildProviders instantiates every provider named in cfg, skipping any
// whose name isn't registered (useful for partial builds during development).
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.Reranker.Name; name != "" {
		p, err := reg.CreateReranker(cfg.Providers.Reranker)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("reranker provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create reranker provider %q: %w", name, err)
		} else {
			ps.Reranker = p
			slog.Info("provider created", "kind", "reranker", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Cairn — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Reranker", cfg.Providers.Reranker.Name, cfg.Providers.Reranker.Model)
	fmt.Printf("║  Enhanced search : %-19t ║\n", cfg.Search.Enhanced)
	fmt.Printf("║  Health addr     : %-19s ║\n", cfg.Server.HealthAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
