// Command streamscribe transcribes an unbounded audio stream by chaining
// recognizer sessions across their duration limit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/streamscribe/internal/app"
	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/observe"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	wavPath := flag.String("file", "", "transcribe this WAV file instead of the configured source")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *wavPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamscribe: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("streamscribe starting",
		"version", version,
		"config", *configPath,
		"recognizer", cfg.Recognizer.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Recognizer registry ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinRecognizers(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(os.Stderr, cfg)

	opts := []app.Option{
		app.WithLogLevel(&level),
		app.WithMetricsHandler(tel.Handler),
	}
	if *configPath != "" && *watch {
		opts = append(opts, app.WithConfigWatch(*configPath, config.DefaultWatchInterval))
	}

	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path, or builds a config from the environment when path
// is empty. A non-empty wavPath switches the source to that file.
func loadConfig(path, wavPath string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found", path)
		}
	}
	if err != nil {
		return nil, err
	}
	if wavPath != "" {
		cfg.Audio.Source = config.SourceFile
		cfg.Audio.Path = wavPath
	}
	return cfg, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      streamscribe — startup summary   ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Recognizer", describe(cfg.Recognizer.Name, cfg.Recognizer.Model))
	for i, fb := range cfg.Recognizer.Fallbacks {
		printRow(w, fmt.Sprintf("Fallback %d", i+1), describe(fb.Name, fb.Model))
	}
	printRow(w, "Language", cfg.Recognizer.Language)
	source := string(cfg.Audio.Source)
	if cfg.Audio.Source == config.SourceFile {
		source = cfg.Audio.Path
	}
	printRow(w, "Source", source)
	printRow(w, "Session limit", cfg.Stream.DurationLimit.String())
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow(w, "Listen addr", "(disabled)")
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func describe(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}
