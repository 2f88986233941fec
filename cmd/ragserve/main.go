package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loreworks/ragserve/internal/config"
	"github.com/loreworks/ragserve/internal/embed/hashing"
	"github.com/loreworks/ragserve/internal/llm"
	"github.com/loreworks/ragserve/internal/llm/openai"
	"github.com/loreworks/ragserve/internal/llm/providers"
	"github.com/loreworks/ragserve/internal/observability"
	"github.com/loreworks/ragserve/internal/rag"
	"github.com/loreworks/ragserve/internal/secrets"
	"github.com/loreworks/ragserve/internal/server"
	"github.com/loreworks/ragserve/internal/store"
	httpx "github.com/loreworks/ragserve/internal/transport/http"
	v1 "github.com/loreworks/ragserve/internal/transport/http/v1"
	"github.com/loreworks/ragserve/internal/vector"
	"github.com/loreworks/ragserve/internal/vector/memory"
	"github.com/loreworks/ragserve/internal/vector/qdrant"

	"github.com/labstack/echo/v4"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ragserve",
		Short: "Retrieval-augmented chat service",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "", "Config file path (built-in defaults when empty)")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-14s %s\n", name, url)
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println("  none           (run without LLM, retrieval-only answers)")
			fmt.Println()
			fmt.Println("Configure in ragserve.yaml or via environment:")
			fmt.Println("  RAGSERVE_LLM_PROVIDER=groq")
			fmt.Println("  RAGSERVE_LLM_API_KEY=gsk_...")
			fmt.Println("  RAGSERVE_LLM_MODEL=llama-3.3-70b-versatile")
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ragserve", version)
		},
	}

	rootCmd.AddCommand(serveCmd, providersCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath string) error {
	ctx := context.Background()

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Path,
	}); err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  "ragserve",
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	if err := secrets.Init(secretsConfig(cfg)); err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	// The API key rarely belongs in a config file; fall back to the
	// secrets manager (env-backed unless configured otherwise,
	// RAGSERVE_LLM_API_KEY).
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretLLMAPIKey), "")
	}

	provider, err := providers.New(llm.ProviderConfig{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		EmbedModel:        cfg.Embedding.Model,
		Timeout:           cfg.LLM.Timeout,
		MaxRetries:        cfg.LLM.MaxRetries,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	var embedder vector.Embedder
	switch cfg.Embedding.Source {
	case "llm":
		if provider == nil {
			return fmt.Errorf("embedding source 'llm' requires a configured LLM provider")
		}
		embedder = provider
	default:
		embedder = hashing.New(cfg.Embedding.Dimension)
	}

	var repo vector.Repository
	switch cfg.Vector.Backend {
	case "qdrant":
		repo, err = qdrant.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection, cfg.Embedding.Dimension)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
	default:
		repo = memory.New()
	}
	docs := vector.NewStore(embedder, repo)

	convs, err := store.NewSQLite(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}

	ragSvc := rag.New(docs, provider, convs, rag.Config{
		TopK:         cfg.RAG.TopK,
		SystemPrompt: cfg.RAG.SystemPrompt,
		HistoryLimit: cfg.RAG.HistoryLimit,
		GenTimeout:   cfg.RAG.GenTimeout,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
	})

	genCheck := generatorCheck(cfg)
	handler := v1.NewHandler(v1.Config{
		RAG:            ragSvc,
		Docs:           docs,
		Convs:          convs,
		ChunkSize:      cfg.Chunker.Size,
		ChunkOverlap:   cfg.Chunker.Overlap,
		GeneratorCheck: genCheck,
		StoreCheck:     convs.Ping,
	})

	srv := httpx.NewServer(cfg.Server.Host, cfg.Server.Port, handler)
	srv.Echo().GET("/metrics", echo.WrapHandler(observability.Metrics().Handler()))

	g := server.NewGracefulServer(&server.HealthConfig{Version: version}, nil)
	g.Health.RegisterCheck("vector_store", server.VectorStoreHealthChecker(func(ctx context.Context) error {
		_, err := docs.Count(ctx)
		return err
	}))
	g.Health.RegisterCheck("conversation_store", server.DatabaseHealthChecker(convs.Ping))
	if provider != nil {
		g.Health.RegisterCheck("generator", server.GeneratorHealthChecker(cfg.LLM.Provider, genCheck))
	}

	for _, h := range []server.ShutdownHook{
		server.HTTPServerShutdownHook("api-server", srv.Shutdown),
		server.VectorRepositoryShutdownHook(docs.Close),
		server.TracingShutdownHook(tp.Shutdown),
		server.DatabaseShutdownHook(convs.Close),
	} {
		g.Shutdown.RegisterHook(h.Name, h.Priority, h.Fn)
	}

	if cfg.Server.OpsPort > 0 {
		g.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.OpsPort))
	} else {
		g.Shutdown.Start()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	providerName := cfg.LLM.Provider
	if providerName == "" {
		providerName = "none"
	}
	observability.Audit().LogServerStart(ctx, addr, cfg.Vector.Backend, providerName)

	go func() {
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			g.Shutdown.Shutdown()
		}
	}()

	g.Wait()
	observability.Audit().LogServerStop(ctx)
	observability.Audit().Close()
	return nil
}

// secretsConfig translates the secrets section into a manager config.
func secretsConfig(cfg *config.Config) *secrets.Config {
	sc := &secrets.Config{Provider: cfg.Secrets.Provider}
	switch cfg.Secrets.Provider {
	case "vault":
		sc.VaultConfig = &secrets.VaultConfig{
			Address:    cfg.Secrets.VaultAddress,
			Token:      cfg.Secrets.VaultToken,
			MountPath:  cfg.Secrets.VaultMount,
			SecretPath: cfg.Secrets.VaultPath,
		}
	case "file":
		sc.FileConfig = &secrets.FileConfig{Path: cfg.Secrets.FilePath}
	}
	return sc
}

// generatorCheck builds a reachability probe for the generation backend.
// Only OpenAI-compatible providers expose a cheap endpoint to probe; for the
// rest a nil checker means "configured, assumed reachable".
func generatorCheck(cfg *config.Config) v1.Checker {
	switch cfg.LLM.Provider {
	case "", "none", "anthropic":
		return nil
	}
	baseURL := cfg.LLM.BaseURL
	if baseURL == "" {
		baseURL = llm.KnownProviders[cfg.LLM.Provider]
	}
	if baseURL == "" {
		return nil
	}
	ping := openai.New(cfg.LLM.APIKey, cfg.LLM.Model, baseURL, "")
	return ping.Ping
}
