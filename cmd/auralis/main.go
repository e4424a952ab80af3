// Command auralis records system audio and transcribes it live. It starts a
// recording session on launch, prints transcripts as they arrive, and stops on
// SIGINT/SIGTERM. After the session ends it corrects glossary terms in the
// transcript, generates meeting notes, and persists everything when a
// database is configured.
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
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/auralis-app/auralis/internal/config"
	"github.com/auralis-app/auralis/internal/health"
	"github.com/auralis-app/auralis/internal/notes"
	"github.com/auralis-app/auralis/internal/observe"
	"github.com/auralis-app/auralis/internal/resilience"
	"github.com/auralis-app/auralis/internal/session"
	"github.com/auralis-app/auralis/internal/store/postgres"
	"github.com/auralis-app/auralis/internal/transcript"
	"github.com/auralis-app/auralis/pkg/audio/capture"
	"github.com/auralis-app/auralis/pkg/provider/llm"
	"github.com/auralis-app/auralis/pkg/provider/llm/anyllm"
	"github.com/auralis-app/auralis/pkg/provider/stt"
	"github.com/auralis-app/auralis/pkg/provider/stt/deepgram"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level is a LevelVar so a config reload can adjust it live.
	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	// ── Configuration (watched for hot-reloadable changes) ────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.GlossaryChanged {
			slog.Info("glossary updated; applies to the next correction pass",
				"terms", len(new.Glossary.Terms))
		}
		if d.NotesChanged {
			slog.Info("notes settings updated; applies to the next generated note")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auralis: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auralis: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	levelVar.Set(slogLevel(cfg.LogLevel))

	slog.Info("auralis starting",
		"config", *configPath,
		"stt_provider", cfg.STT.Provider,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── STT provider ──────────────────────────────────────────────────────────
	provider, err := buildSTTProvider(cfg)
	if err != nil {
		slog.Error("failed to build STT provider", "err", err)
		return 1
	}

	// ── Persistence (optional) ────────────────────────────────────────────────
	var store *postgres.Store
	var sink session.Sink
	if cfg.Storage.PostgresDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer store.Close()
		sink = store
		slog.Info("session persistence enabled")
	}

	// ── Observability HTTP surface (optional) ─────────────────────────────────
	if addr := cfg.Observe.ListenAddr; addr != "" {
		var checkers []health.Checker
		if store != nil {
			checkers = append(checkers, health.Checker{Name: "database", Check: store.Ping})
		}
		srv := health.NewServer(addr, checkers...)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("observability endpoints up", "addr", addr)
	}

	// ── Session coordinator ───────────────────────────────────────────────────
	coord, err := session.New(session.Config{
		Source:       capture.NewLoopback(cfg.Capture.Format()),
		Provider:     provider,
		WireRate:     wireRate(cfg),
		Quantum:      cfg.Stream.Quantum.Std(),
		PollInterval: cfg.Stream.PollInterval.Std(),
		RingCapacity: cfg.Stream.RingCapacity,
		RingPolicy:   cfg.Stream.RingPolicy.Overflow(),
		Stream:       streamConfig(cfg),
		StopTimeout:  cfg.Stream.StopTimeout.Std(),
		Sink:         sink,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("failed to initialise session coordinator", "err", err)
		return 1
	}

	go printEvents(coord.Events())

	// ── Record until interrupted ──────────────────────────────────────────────
	if err := coord.Start(ctx); err != nil {
		slog.Error("failed to start recording", "err", err)
		return 1
	}
	slog.Info("recording — press Ctrl+C to stop")

	<-ctx.Done()
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sess, err := coord.Stop(stopCtx)
	if err != nil {
		if errors.Is(err, session.ErrNotRecording) {
			// The session already ended on its own (device loss, transport
			// failure); the final event carried the reason.
			return 1
		}
		slog.Warn("stop did not complete cleanly", "err", err)
	}
	if sess == nil {
		return 1
	}

	// ── Post-session: correction, notes, persistence ──────────────────────────
	// Re-read the watched config so a glossary edited mid-recording applies.
	cfg = watcher.Current()

	text := sess.Transcript()
	if corrected, corrections := correctTranscript(cfg, text); len(corrections) > 0 {
		text = corrected
		for _, c := range corrections {
			slog.Debug("glossary correction",
				"original", c.Original,
				"corrected", c.Corrected,
				"confidence", c.Confidence,
			)
		}
	}

	fmt.Println()
	fmt.Println("── Transcript ──")
	fmt.Println(text)

	if note := generateNotes(stopCtx, cfg, sess.ID, text); note != nil {
		printNote(note)
		if store != nil {
			if err := store.SaveNote(stopCtx, note); err != nil {
				slog.Warn("failed to save meeting note", "err", err)
			}
		}
	}

	slog.Info("goodbye", "session_id", sess.ID, "duration", sess.Duration(), "outcome", sess.Outcome)
	return 0
}

// buildSTTProvider constructs the configured streaming transcription backend.
func buildSTTProvider(cfg *config.Config) (stt.Provider, error) {
	switch cfg.STT.Provider {
	case "deepgram":
		apiKey := cfg.STT.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("AURALIS_STT_API_KEY")
		}
		var opts []deepgram.Option
		if cfg.STT.Endpoint != "" {
			opts = append(opts, deepgram.WithEndpoint(cfg.STT.Endpoint))
		}
		if cfg.STT.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.STT.Model))
		}
		if cfg.STT.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.STT.Language))
		}
		if d := cfg.STT.HandshakeTimeout.Std(); d > 0 {
			opts = append(opts, deepgram.WithHandshakeTimeout(d))
		}
		if d := cfg.STT.FlushGrace.Std(); d > 0 {
			opts = append(opts, deepgram.WithFlushGrace(d))
		}
		return deepgram.New(apiKey, opts...)
	default:
		return nil, fmt.Errorf("unsupported stt provider %q", cfg.STT.Provider)
	}
}

// wireRate returns the configured wire sample rate, defaulting to 16 kHz.
func wireRate(cfg *config.Config) int {
	if cfg.Stream.WireRate > 0 {
		return cfg.Stream.WireRate
	}
	return 16000
}

// streamConfig builds the recognition hints for a new session. The glossary
// terms double as recognizer keyword boosts.
func streamConfig(cfg *config.Config) stt.StreamConfig {
	boost := cfg.Glossary.Boost
	if boost == 0 {
		boost = 1.0
	}
	sc := stt.StreamConfig{Language: cfg.STT.Language}
	for _, term := range cfg.Glossary.Terms {
		sc.Keywords = append(sc.Keywords, stt.KeywordBoost{Keyword: term, Boost: boost})
	}
	return sc
}

// printEvents renders the coordinator's event stream to stdout. Partials are
// overwritten in place; finals are committed with a newline.
func printEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventStatus:
			if ev.Status == session.StatusError && ev.Err != nil {
				fmt.Printf("\r\033[K[%s] %v\n", ev.Status, ev.Err)
			} else {
				fmt.Printf("\r\033[K[%s]\n", ev.Status)
			}
		case session.EventTranscriptPartial:
			fmt.Printf("\r\033[K… %s", ev.Segment.Text)
		case session.EventTranscriptFinal:
			fmt.Printf("\r\033[K%s\n", ev.Segment.Text)
		}
	}
}

// correctTranscript runs the glossary correction pass when terms are
// configured.
func correctTranscript(cfg *config.Config, text string) (string, []transcript.Correction) {
	if len(cfg.Glossary.Terms) == 0 || text == "" {
		return text, nil
	}
	corrector := transcript.NewCorrector(cfg.Glossary.Terms)
	return corrector.Correct(text)
}

// generateNotes produces the meeting note when a notes backend is configured.
// Failures degrade to a transcript-only note rather than aborting shutdown.
func generateNotes(ctx context.Context, cfg *config.Config, sessionID, text string) *notes.Note {
	if cfg.Notes.Provider == "" {
		return nil
	}

	provider, err := buildLLMProvider(cfg)
	if err != nil {
		slog.Warn("failed to build notes provider", "err", err)
		return nil
	}

	var opts []notes.Option
	if cfg.Notes.Temperature > 0 {
		opts = append(opts, notes.WithTemperature(cfg.Notes.Temperature))
	}
	if cfg.Notes.MaxTokens > 0 {
		opts = append(opts, notes.WithMaxTokens(cfg.Notes.MaxTokens))
	}

	note, err := notes.NewGenerator(provider, opts...).Generate(ctx, sessionID, text)
	if err != nil {
		slog.Warn("meeting notes degraded", "err", err)
	}
	return note
}

// buildLLMProvider constructs the configured notes LLM backend. When
// fallbacks are configured the primary is wrapped in a failover group so a
// backend outage degrades to the next model instead of a transcript-only note.
func buildLLMProvider(cfg *config.Config) (llm.Provider, error) {
	primary, err := newLLMBackend(config.NotesBackend{
		Provider: cfg.Notes.Provider,
		APIKey:   cfg.Notes.APIKey,
		BaseURL:  cfg.Notes.BaseURL,
		Model:    cfg.Notes.Model,
	})
	if err != nil {
		return nil, err
	}
	if len(cfg.Notes.Fallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewLLMFallback(primary, cfg.Notes.Provider, resilience.BreakerConfig{})
	for _, fb := range cfg.Notes.Fallbacks {
		backend, err := newLLMBackend(fb)
		if err != nil {
			slog.Warn("skipping notes fallback", "provider", fb.Provider, "err", err)
			continue
		}
		group.AddFallback(fb.Provider, backend)
	}
	return group, nil
}

func newLLMBackend(b config.NotesBackend) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if b.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(b.APIKey))
	}
	if b.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(b.BaseURL))
	}
	return anyllm.New(b.Provider, b.Model, opts...)
}

// printNote renders the meeting note to stdout.
func printNote(n *notes.Note) {
	fmt.Println()
	fmt.Println("── Meeting notes ──")
	if n.Degraded {
		fmt.Println("(summary unavailable — transcript only)")
		return
	}
	if n.Title != "" {
		fmt.Println(n.Title)
	}
	printSection("Key points", n.KeyPoints)
	printSection("Decisions", n.Decisions)
	printSection("Action items", n.ActionItems)
}

func printSection(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, item := range items {
		fmt.Printf("  - %s\n", strings.TrimSpace(item))
	}
}

// slogLevel maps the config log level onto slog's.
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
