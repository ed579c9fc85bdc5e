// Command gatewayd runs the task gateway: HTTP ingress, the SSE event
// hub, the LM-driving worker, and the background artifact sweeper.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sys/unix"

	"github.com/octoagent/gateway/pkg/api"
	"github.com/octoagent/gateway/pkg/artifacts"
	"github.com/octoagent/gateway/pkg/config"
	"github.com/octoagent/gateway/pkg/dispatch"
	"github.com/octoagent/gateway/pkg/fallback"
	"github.com/octoagent/gateway/pkg/lmdriver"
	"github.com/octoagent/gateway/pkg/serializer"
	"github.com/octoagent/gateway/pkg/ssehub"
	"github.com/octoagent/gateway/pkg/store"
	"github.com/octoagent/gateway/pkg/taskservice"
)

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "."), "directory to load .env from")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env file loaded from %s: %v", envPath, err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	artifactStore := artifacts.NewWithThreshold(st, cfg.ArtifactsRoot, cfg.ArtifactInlineThreshold)
	sweeper := artifacts.NewSweeper(st, cfg.ArtifactsRoot, logger)

	ssehub.HeartbeatInterval = cfg.SSEHeartbeatInterval
	hub := ssehub.New(cfg.SSEQueueSize, logger)

	ser := serializer.New(st, logger)
	launcher := dispatch.New(cfg.MaxConcurrentTasks, logger)

	aliases := fallback.NewAliasRegistry(nil, logger)
	manager := buildLMManager(cfg, logger)

	driver := lmdriver.New(st, ser, artifactStore, hub, &aliasResolvingCaller{manager: manager, aliases: aliases}, logger)
	tasks := taskservice.New(st, ser, hub, launcher, driver, logger)

	server := api.NewServer(logger, cfg.ReadinessProfile)
	server.SetTaskService(tasks)
	server.SetHub(hub)
	server.SetHistoryReader(st)
	registerHealthChecks(server, st, cfg)

	if err := server.ValidateWiring(); err != nil {
		logger.Error("server wiring incomplete", "error", err)
		os.Exit(1)
	}

	sweepStop := runSweeperLoop(ctx, sweeper, cfg, logger)
	defer close(sweepStop)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.HTTPAddr)
	}()
	logger.Info("gateway started", "addr", cfg.HTTPAddr, "lm_mode", cfg.LMMode, "readiness_profile", cfg.ReadinessProfile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// aliasResolvingCaller adapts fallback.Manager (which calls by runtime
// group) to lmdriver.LMCaller (which calls by semantic alias), resolving
// through the registry on every call.
type aliasResolvingCaller struct {
	manager *fallback.Manager
	aliases *fallback.AliasRegistry
}

func (c *aliasResolvingCaller) CallWithFallback(ctx context.Context, messages []fallback.Message, modelAlias string) (fallback.ModelCallResult, error) {
	runtimeGroup := c.aliases.Resolve(modelAlias)
	result, err := c.manager.CallWithFallback(ctx, messages, runtimeGroup)
	result.ModelAlias = modelAlias
	return result, err
}

func buildLMManager(cfg config.Config, logger *slog.Logger) *fallback.Manager {
	echoAdapter := fallback.EchoAdapter{}
	if cfg.LMMode == config.LMModeEcho {
		return fallback.NewManager(echoAdapter, nil, logger)
	}
	proxy := fallback.NewProxyClient(cfg.LMProxyBaseURL, cfg.LMProxyAPIKey, cfg.LMCallTimeout, logger)
	return fallback.NewManager(proxy, echoAdapter, logger)
}

func registerHealthChecks(server *api.Server, st *store.Store, cfg config.Config) {
	server.RegisterHealthCheck("store", func(ctx context.Context) error {
		return st.DB().PingContext(ctx)
	})
	server.RegisterHealthCheck("artifacts_dir", func(ctx context.Context) error {
		return checkArtifactsDir(cfg.ArtifactsRoot)
	})
	server.RegisterHealthCheck("disk", func(ctx context.Context) error {
		freeMiB, err := freeDiskMiB(cfg.ArtifactsRoot)
		if err != nil {
			return err
		}
		if freeMiB < 100 {
			return fmt.Errorf("only %d MiB free", freeMiB)
		}
		return nil
	})

	if cfg.ReadinessProfile == "llm" || cfg.ReadinessProfile == "full" {
		server.RegisterHealthCheck("lm_proxy", func(ctx context.Context) error {
			proxy := fallback.NewProxyClient(cfg.LMProxyBaseURL, cfg.LMProxyAPIKey, 5*time.Second, slog.Default())
			if !proxy.HealthCheck(ctx) {
				return fmt.Errorf("lm proxy liveliness probe failed")
			}
			return nil
		})
	}
}

func checkArtifactsDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifacts dir not writable: %w", err)
	}
	probe := filepath.Join(dir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("artifacts dir not writable: %w", err)
	}
	return os.Remove(probe)
}

func freeDiskMiB(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return (stat.Bavail * uint64(stat.Bsize)) / (1024 * 1024), nil
}

func runSweeperLoop(ctx context.Context, sweeper *artifacts.Sweeper, cfg config.Config, logger *slog.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.ArtifactSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := sweeper.Run(ctx, cfg.ArtifactSweepMinAge)
				if err != nil {
					logger.Warn("artifact sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("artifact sweep removed orphan files", "count", removed)
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
