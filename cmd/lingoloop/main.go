// Command lingoloop is the LingoLoop language-learning server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lingoloop/lingoloop/internal/config"
	"github.com/lingoloop/lingoloop/internal/gateway"
	"github.com/lingoloop/lingoloop/internal/health"
	"github.com/lingoloop/lingoloop/internal/observe"
	"github.com/lingoloop/lingoloop/internal/resilience"
	"github.com/lingoloop/lingoloop/internal/session"
	"github.com/lingoloop/lingoloop/pkg/provider/genai"
	"github.com/lingoloop/lingoloop/pkg/provider/genai/anyllm"
	"github.com/lingoloop/lingoloop/pkg/provider/genai/gemini"
	"github.com/lingoloop/lingoloop/pkg/provider/genai/openaichat"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingoloop: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingoloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it without
	// swapping the handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("lingoloop starting",
		"config", *configPath,
		"listen_addr", listenAddr(cfg),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Credentials ───────────────────────────────────────────────────────────
	creds := config.LoadCredentials(cfg.Providers.Fallback.Name)
	if creds.Primary == "" {
		slog.Error("primary provider API key is not set", "env", config.EnvPrimaryAPIKey)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "lingoloop",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	primary, err := gemini.New(creds.Primary, geminiOptions(cfg.Providers.Transcriber)...)
	if err != nil {
		slog.Error("failed to create primary provider", "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "transcriber", "name", "gemini",
		"model", orDefault(cfg.Providers.Transcriber.Model, "gemini-2.5-flash"))

	definer := buildDefiner(primary, cfg.Providers.Fallback, creds.Fallback)

	// ── Session and HTTP surface ──────────────────────────────────────────────
	ctrl := session.NewController(primary, definer, metrics)

	srv := gateway.New(gateway.Config{
		Controller:     ctrl,
		Health:         health.New(),
		Metrics:        metrics,
		Logger:         logger,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		BaseContext:    ctx,
	})

	httpSrv := &http.Server{
		Addr:              listenAddr(cfg),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Compare(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "log_level", d.NewLogLevel)
		}
		if d.VoiceChanged {
			t := new.Providers.Transcriber
			primary.SetSynthesisVoice(t.TTSModel, t.Voice)
			ctrl.DropSynthesisCache()
			slog.Info("synthesis voice changed, cached reference audio dropped",
				"voice", t.Voice, "tts_model", t.TTSModel)
		}
		if d.FallbackChanged {
			slog.Warn("fallback provider changed in config — restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if tls := cfg.Server.TLS; tls != nil {
			serveErr = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func geminiOptions(cfg config.TranscriberConfig) []gemini.Option {
	var opts []gemini.Option
	if cfg.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Model))
	}
	if cfg.TTSModel != "" {
		opts = append(opts, gemini.WithTTSModel(cfg.TTSModel))
	}
	if cfg.Voice != "" {
		opts = append(opts, gemini.WithVoice(cfg.Voice))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	return opts
}

// buildDefiner assembles the word-definition path: the primary provider,
// optionally backed by a text-only secondary behind circuit breakers. Any
// problem constructing the secondary degrades to primary-only rather than
// failing startup.
func buildDefiner(primary genai.Definer, cfg config.FallbackConfig, apiKey string) genai.Definer {
	if cfg.Name == "" {
		slog.Info("definition fallback not configured")
		return primary
	}
	// Local servers authenticate by reachability, not by key.
	if apiKey == "" && cfg.Name != "ollama" {
		slog.Warn("fallback API key is not set — running without definition fallback",
			"name", cfg.Name, "env", config.EnvFallbackAPIKey)
		return primary
	}

	var (
		secondary genai.Definer
		err       error
	)
	switch cfg.Name {
	case "openai":
		var opts []openaichat.Option
		if cfg.Model != "" {
			opts = append(opts, openaichat.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openaichat.WithBaseURL(cfg.BaseURL))
		}
		secondary, err = openaichat.New(apiKey, opts...)
	default:
		var opts []anyllmlib.Option
		if apiKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(apiKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		secondary, err = anyllm.New(cfg.Name, cfg.Model, opts...)
	}
	if err != nil {
		slog.Warn("fallback provider unavailable — running without definition fallback",
			"name", cfg.Name, "err", err)
		return primary
	}
	slog.Info("provider created", "kind", "fallback", "name", cfg.Name, "model", cfg.Model)
	return resilience.NewDefinerFallback(primary, "gemini", secondary, cfg.Name,
		resilience.CircuitBreakerConfig{})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        LingoLoop — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Transcriber", "gemini / "+orDefault(cfg.Providers.Transcriber.Model, "default"))
	printEntry("TTS voice", orDefault(cfg.Providers.Transcriber.Voice, "default"))
	if cfg.Providers.Fallback.Name != "" {
		printEntry("Fallback", cfg.Providers.Fallback.Name+" / "+orDefault(cfg.Providers.Fallback.Model, "default"))
	} else {
		printEntry("Fallback", "(disabled)")
	}
	printEntry("Listen addr", listenAddr(cfg))
	if cfg.Server.TLS != nil {
		printEntry("TLS", "enabled")
	} else {
		printEntry("TLS", "plain HTTP")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func listenAddr(cfg *config.Config) string {
	if cfg.Server.ListenAddr != "" {
		return cfg.Server.ListenAddr
	}
	return ":8080"
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
