package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kalambet/edgecoach/internal/ai"
	"github.com/kalambet/edgecoach/internal/api"
	"github.com/kalambet/edgecoach/internal/composer"
	"github.com/kalambet/edgecoach/internal/config"
	"github.com/kalambet/edgecoach/internal/memory"
	"github.com/kalambet/edgecoach/internal/pipeline"
	"github.com/kalambet/edgecoach/internal/profile"
	"github.com/kalambet/edgecoach/internal/provider"
	"github.com/kalambet/edgecoach/internal/service"
	"github.com/kalambet/edgecoach/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the edgecoach server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running edgecoach server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "edgecoach.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// buildAdapters binds a provider adapter for every configured credential.
func buildAdapters(cfg config.Config) map[ai.Provider]service.Adapter {
	adapters := make(map[ai.Provider]service.Adapter, 2)
	if cfg.Providers.AnthropicAPIKey != "" {
		adapters[ai.ProviderAnthropic] = provider.NewAnthropicWithBaseURL(cfg.Providers.AnthropicAPIKey, cfg.Providers.AnthropicBaseURL)
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		adapters[ai.ProviderOpenAI] = provider.NewOpenAIWithBaseURL(cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIBaseURL)
	}
	return adapters
}

func newService(cfg config.Config, reg prometheus.Registerer) *service.Service {
	return service.New(service.Options{
		Adapters:        buildAdapters(cfg),
		DefaultProvider: cfg.Provider(),
		DefaultModels: map[ai.Provider]string{
			ai.ProviderAnthropic: cfg.AI.AnthropicModel,
			ai.ProviderOpenAI:    cfg.AI.OpenAIModel,
		},
		CacheTimeout: time.Duration(cfg.AI.CacheTimeoutSeconds) * time.Second,
		Registerer:   reg,
	})
}

// app is the wired server.
type app struct {
	handler http.Handler
	mcp     *server.MCPServer
	service *service.Service
	close   func() error
}

// buildApp wires storage, memory, profiles, the AI service and the coach
// pipeline into the HTTP and MCP surfaces.
func buildApp(cfg config.Config, token string) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		convBackend  memory.Backend
		profileStore profile.ProfileStore
		closeFn      = func() error { return nil }
	)
	switch cfg.Storage.Backend {
	case "memory":
		convBackend = memory.NewInMemoryBackend()
		profileStore = profile.NewInMemoryStore()
	default:
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		convBackend = store
		profileStore = store
		closeFn = store.Close
	}

	svc := newService(cfg, reg)
	mem := memory.NewManager(convBackend)
	profiles := profile.NewManager(profileStore)

	temperature := cfg.AI.Temperature
	caching := cfg.AI.EnableCaching
	coach := pipeline.NewCoach(pipeline.Options{
		Generator:        svc,
		Memory:           mem,
		Profiles:         profiles,
		Window:           composer.NewWindowManager(cfg.Context.RecentPairs, cfg.Context.SummaryMaxTokens),
		MaxContextTokens: cfg.Context.MaxTokens,
		Defaults: ai.ServiceConfig{
			Provider:            cfg.Provider(),
			Model:               svc.DefaultModel(cfg.Provider()),
			MaxTokens:           cfg.AI.MaxTokens,
			Temperature:         &temperature,
			EnableCaching:       &caching,
			CacheTimeoutSeconds: cfg.AI.CacheTimeoutSeconds,
		},
	})

	handler := api.NewHandler(api.Deps{
		Coach:          coach,
		Service:        svc,
		Memory:         mem,
		Profiles:       profiles,
		Token:          token,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RequestTimeout: cfg.RequestTimeoutDuration(),
	})
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Coach:    coach,
		Memory:   mem,
		Profiles: profiles,
		Service:  svc,
	})

	return &app{handler: handler, mcp: mcpSrv, service: svc, close: closeFn}, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "edgecoach version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("edgecoach is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("edgecoach is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg, apiToken)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	for _, p := range []ai.Provider{ai.ProviderAnthropic, ai.ProviderOpenAI} {
		slog.Info("provider", "name", p, "configured", a.service.Configured(p), "default_model", a.service.DefaultModel(p))
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(a.mcp)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("edgecoach listening", "addr", addr, "storage", cfg.Storage.Backend)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("edgecoach is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop edgecoach (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to edgecoach (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Default provider", "%s", cfg.Provider())
	printStatus("Storage", "%s (%s)", cfg.Storage.Backend, cfg.Storage.DataDir)

	printStep("Checking provider credentials...")
	svc := newService(cfg, nil)
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	results := svc.CheckProviders(checkCtx)
	for _, p := range []ai.Provider{ai.ProviderAnthropic, ai.ProviderOpenAI} {
		printStatus(providerLabel(p), "%s", providerState(svc.Configured(p), results[p]))
	}
	return nil
}

func providerLabel(p ai.Provider) string {
	switch p {
	case ai.ProviderAnthropic:
		return "Anthropic"
	case ai.ProviderOpenAI:
		return "OpenAI"
	}
	return string(p)
}

func providerState(configured bool, err error) string {
	switch {
	case !configured:
		return "not configured"
	case err != nil:
		return colorize(colorRed, "error: "+err.Error())
	default:
		return colorize(colorGreen, "ok")
	}
}
