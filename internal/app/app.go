// Package app wires the streamscribe subsystems into a running transcription.
//
// The App struct owns the full lifecycle: New builds the recognizer chain,
// the capture source, the transcript sink and the operations HTTP server;
// Run transcribes until the source ends or ctx is cancelled; Shutdown
// releases everything in order.
//
// For testing, inject doubles via functional options (WithRecognizer,
// WithSource, WithSink, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/health"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/stream"
	"github.com/MrWong99/streamscribe/internal/transcript"
	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// App owns all subsystem lifetimes of one transcription run.
type App struct {
	cfg *config.Config

	recognizer stt.Provider
	source     audio.Source
	sink       transcript.Sink
	manager    *stream.Manager
	metrics    *observe.Metrics

	stdin          io.Reader
	stdout         io.Writer
	level          *slog.LevelVar
	metricsHandler http.Handler
	watchPath      string
	watchInterval  time.Duration
	watcher        *config.Watcher

	listener net.Listener
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecognizer injects a recognizer instead of building one from the registry.
func WithRecognizer(p stt.Provider) Option {
	return func(a *App) { a.recognizer = p }
}

// WithSource injects a capture source instead of opening the configured one.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects a transcript sink instead of the terminal renderer.
func WithSink(s transcript.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithStdio replaces standard input (the "stdin" source) and standard output
// (the terminal transcript).
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
	}
}

// WithLogLevel hands New the level variable of the process logger so that
// configuration reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetricsHandler serves h on /metrics, normally observe.Telemetry.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigWatch polls path during Run and applies log level changes.
// Other changes are logged as needing a restart.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg supplies the
// recognizer factories and may be nil when WithRecognizer is used.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	ok := false
	defer func() {
		if !ok {
			a.runClosers()
		}
	}()

	// ── 1. Recognizer chain ──────────────────────────────────────────────
	if a.recognizer == nil {
		if reg == nil {
			return nil, errors.New("app: no recognizer registry")
		}
		p, closers, err := BuildRecognizer(ctx, cfg.Recognizer, reg, a.metrics)
		if err != nil {
			return nil, err
		}
		a.recognizer = p
		a.closers = append(a.closers, closers...)
	}

	// ── 2. Capture source ────────────────────────────────────────────────
	if a.source == nil {
		src, err := OpenSource(cfg, a.stdin)
		if err != nil {
			return nil, err
		}
		a.source = src
	}
	a.closers = append(a.closers, a.source.Close)

	// ── 3. Transcript sink ───────────────────────────────────────────────
	if a.sink == nil {
		a.sink = transcript.NewTerminalSink(a.stdout, transcript.WithColor(config.Bool(cfg.Stream.Color, true)))
	}

	// ── 4. Session manager ───────────────────────────────────────────────
	mgr, err := stream.New(a.recognizer, a.sink,
		stream.WithDurationLimit(cfg.Stream.DurationLimit),
		stream.WithQueueCapacity(cfg.Stream.QueueCapacity),
		stream.WithEventBuffer(cfg.Stream.EventBuffer),
		stream.WithFlushTimeout(cfg.Stream.FlushTimeout),
		stream.WithProviderName(cfg.Recognizer.Name),
		stream.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: session manager: %w", err)
	}
	a.manager = mgr

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.applyConfig, config.WithInterval(a.watchInterval))
		if err != nil {
			return nil, err
		}
		a.watcher = w
	}

	// ── 6. Operations server ─────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("app: listen %q: %w", cfg.Server.ListenAddr, err)
		}
		a.listener = ln
		a.server = &http.Server{
			Handler:           observe.Middleware(a.metrics)(a.opsMux()),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	ok = true
	return a, nil
}

func (a *App) opsMux() *http.ServeMux {
	mux := http.NewServeMux()
	health.New([]health.Checker{health.Probe("stream", a.manager.Ready)}).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return mux
}

// applyConfig is the watcher callback.
func (a *App) applyConfig(_, _ *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("configuration change takes effect on next start", "sections", diff.RestartRequired)
	}
}

// Addr returns the address of the operations listener, or nil when it is
// disabled.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Manager returns the session manager driving the run.
func (a *App) Manager() *stream.Manager { return a.manager }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run transcribes until the source ends (returns nil), ctx is cancelled
// (returns ctx.Err()) or the recognizer fails. The operations server and the
// config watcher live exactly as long as the transcription.
func (a *App) Run(ctx context.Context) error {
	runID := xid.New().String()
	ctx = observe.WithRunID(ctx, runID)
	log := observe.Logger(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.server != nil {
		g.Go(func() error {
			log.Info("ops server listening", "addr", a.listener.Addr().String())
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return a.server.Shutdown(shutdownCtx)
		})
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	var runErr error
	g.Go(func() error {
		defer cancel()
		log.Info("transcription started",
			"recognizer", a.cfg.Recognizer.Name,
			"fallbacks", len(a.cfg.Recognizer.Fallbacks),
			"duration_limit", a.cfg.Stream.DurationLimit,
		)
		runErr = a.manager.Run(gctx, a.source, StreamConfig(a.cfg))
		log.Info("transcription stopped", "epochs", a.manager.Epoch()+1, "err", runErr)
		return nil
	})

	waitErr := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil && (runErr == nil || errors.Is(runErr, context.Canceled)) {
		return waitErr
	}
	return runErr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the source and recognizer resources. It respects the
// context deadline: if ctx expires before all closers finish, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.listener != nil {
			_ = a.listener.Close()
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}

// SlogLevel maps a configured level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
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
