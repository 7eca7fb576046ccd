// Command scheduler is the process entrypoint wiring the Checking-Point
// Engine and MCP Client Core together: config, telemetry, the CP
// registry, the CP engine, the action dispatcher, and the workflow
// engine, behind a graceful-shutdown signal handler. The CP engine is
// constructed here but not polled; nothing in this command calls
// PollOnce.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/monitor-core/internal/audit"
	"github.com/agentoven/monitor-core/internal/config"
	"github.com/agentoven/monitor-core/internal/dispatch"
	"github.com/agentoven/monitor-core/internal/engine"
	"github.com/agentoven/monitor-core/internal/health"
	"github.com/agentoven/monitor-core/internal/notify"
	"github.com/agentoven/monitor-core/internal/telemetry"
	"github.com/agentoven/monitor-core/internal/workflow"
	"github.com/agentoven/monitor-core/pkg/checkpoint"
	mcpclient "github.com/agentoven/monitor-core/pkg/mcp/client"
	"github.com/agentoven/monitor-core/pkg/mcp/transport"
)

// clientExecutor adapts *mcpclient.Client's Envelope return shape to
// the workflow engine's narrow ToolExecutor contract.
type clientExecutor struct {
	client *mcpclient.Client
}

func (c clientExecutor) ExecuteProposedTool(ctx context.Context, name string, args map[string]interface{}) (bool, interface{}, string) {
	env := c.client.ExecuteProposedTool(ctx, name, args)
	return env.Success, env.Data, env.Error
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.LoadFromEnv(config.DefaultPrefix)
	if errs := cfg.Validate(); len(errs) > 0 {
		log.Fatal().Strs("errors", errs).Msg("scheduler: invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(telemetry.Settings{
		ServiceName:  "monitor-core-scheduler",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, cfg.Monitoring)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: telemetry init failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("scheduler: telemetry shutdown error")
		}
	}()

	mcpEndpoint := os.Getenv("MCP_SERVER_ENDPOINT")
	if mcpEndpoint == "" {
		mcpEndpoint = "http://localhost:8090"
	}
	rrTransport := transport.NewRequestResponseTransport(transport.RequestResponseConfig{
		BaseURL:        mcpEndpoint,
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		ReadTimeout:    cfg.Transport.ReadTimeout,
	})
	mcpClient := mcpclient.New(rrTransport, cfg)
	defer mcpClient.Close()

	registry := checkpoint.NewRegistry()

	notifier := notify.NewDispatcher()
	notifier.Register("webhook_notify", notify.WebhookHandler(&http.Client{Timeout: 15 * time.Second}, notify.WebhookConfig{
		URL:    os.Getenv("MONITOR_WEBHOOK_URL"),
		Secret: os.Getenv("MONITOR_WEBHOOK_SECRET"),
	}))

	wfEngine := workflow.NewEngine(clientExecutor{client: mcpClient}, workflow.ConditionPolicy(os.Getenv("MONITOR_POLICY_CONDITION")), nil)

	actionDispatcher := dispatch.New(notifier, wfEngine, func(result workflow.Result) {
		if !result.Success {
			log.Warn().Str("proposal", result.ProposalID).Str("reason", result.Reason).Msg("scheduler: workflow proposal did not complete")
		}
	})

	if dsn := os.Getenv("MONITOR_AUDIT_DSN"); dsn != "" {
		pgSink, err := audit.NewPostgresAuditSink(ctx, dsn)
		if err != nil {
			log.Warn().Err(err).Msg("scheduler: postgres audit sink unavailable, keeping in-memory sink")
		} else {
			defer pgSink.Close()
			actionDispatcher.WithAuditSink(pgSink)
		}
	}

	cpEngine := engine.New(registry, engine.DefaultConfig(), actionDispatcher.Handle)

	healthChecker := health.NewHealthChecker(mcpClient, cfg.Monitoring.HealthInterval)
	if cfg.Monitoring.HealthOn {
		healthChecker.Start(ctx)
		defer healthChecker.Stop()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET"}}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if healthChecker.Latest() == health.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: ":8080", Handler: router}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("scheduler: health endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("scheduler: health server error")
		}
	}()

	_ = cpEngine // wired for future Source registrations outside this scope

	log.Info().Msg("scheduler: running")
	<-ctx.Done()
	log.Info().Msg("scheduler: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler: graceful shutdown error")
	}
}
