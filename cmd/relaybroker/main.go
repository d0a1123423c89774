// Command relaybroker is the main entry point for the multi-session
// interaction broker: it mediates between autonomous agent clients
// (speaking MCP over Streamable HTTP) and a single human operator (speaking
// through a terminal UI and an optional frontend gateway), via TTS playback
// and an inbox state machine.
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

	"github.com/relaybroker/relaybroker/internal/config"
	"github.com/relaybroker/relaybroker/internal/discord"
	"github.com/relaybroker/relaybroker/internal/dispatcher"
	"github.com/relaybroker/relaybroker/internal/eventbus"
	"github.com/relaybroker/relaybroker/internal/gateway"
	"github.com/relaybroker/relaybroker/internal/health"
	"github.com/relaybroker/relaybroker/internal/inbox"
	"github.com/relaybroker/relaybroker/internal/mcpserver"
	"github.com/relaybroker/relaybroker/internal/observe"
	"github.com/relaybroker/relaybroker/internal/presenter"
	"github.com/relaybroker/relaybroker/internal/registry"
	"github.com/relaybroker/relaybroker/internal/resilience"
	"github.com/relaybroker/relaybroker/internal/tts"
	pkgtts "github.com/relaybroker/relaybroker/pkg/tts"
	"github.com/relaybroker/relaybroker/pkg/tts/localcli"
	"github.com/relaybroker/relaybroker/pkg/tts/remotehttp"

	"github.com/bwmarrin/discordgo"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	agentAddr := flag.String("agent-addr", ":8081", "listen address for the agent-facing MCP transport")
	discordToken := flag.String("discord-token", os.Getenv("RELAYBROKER_DISCORD_TOKEN"), "Discord bot token for the optional dashboard mirror (disabled if empty)")
	discordChannel := flag.String("discord-channel", os.Getenv("RELAYBROKER_DISCORD_CHANNEL"), "Discord channel id the dashboard mirror posts to")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "relaybroker: config file %q not found — create it or pass -config\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "relaybroker: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	slog.Info("relaybroker starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"agent_addr", *agentAddr,
		"log_level", cfg.Server.LogLevel,
	)

	events := eventbus.New(cfg.EventBus.BufferSize)
	defer events.Close()

	reg := registry.New(cfg.Session.HistoryCap, events, logger)

	ttsEngine, err := buildTTSEngine(cfg, events, logger)
	if err != nil {
		slog.Error("failed to build tts engine", "err", err)
		return 1
	}
	defer ttsEngine.Close()

	pres := presenter.New(presenter.Config{
		Registry: reg,
		Speaker:  ttsEngine,
		Term:     newStdTerminal(),
		Out:      os.Stdout,
		In:       os.Stdin,
		Log:      logger,
	})

	inboxEngine := inbox.New(reg, ttsEngine, pres, events, cfg.Inbox.MaxQueuedPerSession, logger)
	pres.SetEngine(inboxEngine)

	disp := dispatcher.New(reg, inboxEngine, logger)
	mcp := mcpserver.NewServer(disp, logger)

	gw := gateway.New(gateway.Config{
		Registry:     reg,
		Engine:       inboxEngine,
		Speaker:      ttsEngine,
		Events:       events,
		Health:       ttsEngine,
		CORSOrigins:  cfg.Gateway.CORSOrigins,
		SSEHeartbeat: cfg.Gateway.SSEHeartbeat,
		Log:          logger,
	})

	healthHandler := health.New(health.Checker{
		Name: "tts_device",
		Check: func(ctx context.Context) error {
			if ttsEngine.DeviceState() == "down" {
				return fmt.Errorf("audio device is down")
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("/", gw.Router())
	operatorSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	agentSrv := &http.Server{
		Addr:    *agentAddr,
		Handler: mcp.HTTPHandler(),
	}

	var dashboard *discord.Dashboard
	if *discordToken != "" && *discordChannel != "" {
		session, err := discordgo.New("Bot " + *discordToken)
		if err != nil {
			slog.Error("failed to create discord session", "err", err)
			return 1
		}
		if err := session.Open(); err != nil {
			slog.Error("failed to open discord session", "err", err)
			return 1
		}
		defer session.Close()
		dashboard = discord.NewDashboard(discord.DashboardConfig{
			Session:   session,
			ChannelID: *discordChannel,
			Source:    combinedDashboardSource{reg: reg, tts: ttsEngine},
		})
		dashboard.Start(ctx)
	}

	errs := make(chan error, 3)
	go func() {
		slog.Info("operator gateway listening", "addr", cfg.Server.ListenAddr)
		if err := operatorSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("operator gateway: %w", err)
		}
	}()
	go func() {
		slog.Info("agent MCP transport listening", "addr", *agentAddr)
		if err := agentSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("agent transport: %w", err)
		}
	}()
	go func() {
		if err := pres.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("presenter: %w", err)
		}
	}()
	go runStalePruner(ctx, reg, cfg.Session.IdleTTL)

	slog.Info("broker ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errs:
		slog.Error("fatal run error", "err", err)
		stop()
	}

	pres.Stop()
	if dashboard != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		dashboard.Stop(shutdownCtx)
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	var shutdownErr error
	if err := operatorSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("operator gateway shutdown: %w", err))
	}
	if err := agentSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("agent transport shutdown: %w", err))
	}
	if shutdownErr != nil {
		slog.Error("shutdown error", "err", shutdownErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildTTSEngine wires the configured primary (and optional fallback)
// generator, the artifact cache, and the recovery state machine into a
// ready-to-use [tts.Engine].
func buildTTSEngine(cfg *config.Config, events *eventbus.Bus, log *slog.Logger) (*tts.Engine, error) {
	genRegistry := config.NewRegistry()
	genRegistry.Register("remotehttp", func(entry config.GeneratorEntry) (pkgtts.Generator, error) {
		opts := []remotehttp.Option{remotehttp.WithModel(entry.Model)}
		if entry.BaseURL != "" {
			opts = append(opts, remotehttp.WithBaseURL(entry.BaseURL))
		}
		return remotehttp.New(entry.APIKey, opts...)
	})
	genRegistry.Register("localcli", func(entry config.GeneratorEntry) (pkgtts.Generator, error) {
		return localcli.New(entry.Command)
	})

	primary, err := genRegistry.Create(cfg.TTS.Primary)
	if err != nil {
		return nil, fmt.Errorf("create primary tts generator: %w", err)
	}

	fallback := tts.NewFallback(primary, resilience.CircuitBreakerConfig{Name: cfg.TTS.Primary.Name})
	if cfg.TTS.Fallback.Name != "" {
		fallbackGen, err := genRegistry.Create(cfg.TTS.Fallback)
		if err != nil {
			return nil, fmt.Errorf("create fallback tts generator: %w", err)
		}
		fallback.AddFallback(fallbackGen)
	}

	cache, err := tts.NewCache(cfg.TTS.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open tts cache: %w", err)
	}

	recovery := tts.NewRecovery(cfg.TTS.Recovery, log)

	return tts.NewEngine(tts.Config{
		Generator:       fallback,
		Cache:           cache,
		Model:           cfg.TTS.Primary.Model,
		PlaybackCommand: cfg.TTS.PlaybackCommand,
		Recovery:        recovery,
		Events:          events,
		Log:             log,
	}), nil
}

// runStalePruner runs the Session Registry's maintenance sweep every 30s
// until ctx is done, reclaiming sessions idle past idleTTL with empty,
// unfocused inboxes (spec.md §5's "stale pruning every 30 s" worker).
func runStalePruner(ctx context.Context, reg *registry.Registry, idleTTL time.Duration) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reg.PruneStale(now, idleTTL)
		}
	}
}

// combinedDashboardSource adapts the registry and TTS engine, which live as
// separate components, to [discord.StateSource]'s single surface.
type combinedDashboardSource struct {
	reg *registry.Registry
	tts *tts.Engine
}

func (c combinedDashboardSource) Snapshots() []registry.Snapshot { return c.reg.Snapshots() }
func (c combinedDashboardSource) DeviceState() string            { return c.tts.DeviceState() }

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
