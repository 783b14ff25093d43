package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mediaflow/internal/buffer"
	"github.com/jmylchreest/mediaflow/internal/config"
	"github.com/jmylchreest/mediaflow/internal/fetch"
	"github.com/jmylchreest/mediaflow/internal/observability"
	"github.com/jmylchreest/mediaflow/internal/provider"
	"github.com/jmylchreest/mediaflow/internal/quality"
	"github.com/jmylchreest/mediaflow/internal/session"
	"github.com/jmylchreest/mediaflow/internal/status"
)

var playCmd = &cobra.Command{
	Use:   "play <content-id>",
	Short: "Play content through the adaptive delivery core",
	Long: `Play one piece of content: rank the configured providers, fill the
buffer ahead of the playback cursor, switch providers on failure or
stall, and adapt the quality tier to the measured bandwidth.

Playback position is simulated by advancing the cursor through buffered
content; state changes and source/quality switches are logged.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().Bool("status", false, "serve runtime statistics over HTTP")
	playCmd.Flags().String("status-addr", ":8090", "status server listen address")

	mustBindPFlag("status.enabled", playCmd.Flags().Lookup("status"))
	mustBindPFlag("status.addr", playCmd.Flags().Lookup("status-addr"))
}

func runPlay(_ *cobra.Command, args []string) error {
	contentID := args[0]
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}

	store, err := newScoreStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing score store: %w", err)
	}

	specs := make([]provider.Spec, len(cfg.Providers))
	for i, p := range cfg.Providers {
		specs[i] = provider.Spec{Name: p.Name, Endpoint: p.Endpoint}
	}
	registry, err := provider.NewRegistry(specs, provider.Policy{
		SuccessGain:      cfg.Selection.SuccessGain,
		DecayFactor:      cfg.Selection.DecayFactor,
		DisableThreshold: cfg.Selection.DisableThreshold,
		RetryBudget:      cfg.Selection.RetryBudget,
		Cooldown:         cfg.Selection.Cooldown,
		Jitter:           0.05,
	}, store, observability.WithComponent(logger, "provider"))
	if err != nil {
		return fmt.Errorf("initializing provider registry: %w", err)
	}

	flusher := provider.NewFlusher(registry, cfg.Selection.FlushSchedule, observability.WithComponent(logger, "provider"))
	if err := flusher.Start(); err != nil {
		return fmt.Errorf("starting score flusher: %w", err)
	}
	defer flusher.Stop()

	ladder := quality.DefaultLadder()
	if cfg.Quality.TierFile != "" {
		ladder, err = quality.LoadLadder(cfg.Quality.TierFile)
		if err != nil {
			return fmt.Errorf("loading tier table: %w", err)
		}
	}

	var decodeCost quality.CostSource = quality.ZeroCost{}
	if cfg.Quality.DecodeCostSampling {
		sampler := quality.NewCPUCostSampler(logger)
		sampler.Start()
		defer sampler.Stop()
		decodeCost = sampler
	}

	manager := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			RecoveryWindow:     cfg.Session.RecoveryWindow,
			MaxProviderRetries: cfg.Session.MaxProviderRetries,
			TickInterval:       cfg.Session.TickInterval,
			MinBufferAhead:     cfg.Buffer.MinAhead,
			OptimalBufferAhead: cfg.Buffer.OptimalAhead,
			ChunkDuration:      cfg.Buffer.ChunkDuration,
			FetchBudget:        cfg.Fetch.Concurrency,
		},
		Fetch: fetch.Config{
			Concurrency:     cfg.Fetch.Concurrency,
			RequestTimeout:  cfg.Fetch.RequestTimeout,
			BandwidthWindow: cfg.Fetch.BandwidthWindow,
			CacheSize:       cfg.Fetch.CacheSize.Bytes(),
			UserAgent:       cfg.Fetch.UserAgent,
		},
		Buffer: buffer.Config{
			MinBufferAhead:     cfg.Buffer.MinAhead,
			OptimalBufferAhead: cfg.Buffer.OptimalAhead,
			StallTimeout:       cfg.Buffer.StallTimeout,
			MaxBufferBytes:     cfg.Buffer.MaxBufferSize.Bytes(),
			RetentionWindow:    cfg.Buffer.RetentionWindow,
			ChunkDuration:      cfg.Buffer.ChunkDuration,
			FetchBudget:        cfg.Fetch.Concurrency,
		},
		Quality: quality.Config{
			Ladder:            ladder,
			Headroom:          cfg.Quality.Headroom,
			MinSwitchInterval: cfg.Quality.MinSwitchInterval,
		},
	}, registry, nil, loggingNotifier(logger), decodeCost, observability.WithComponent(logger, "session"))
	defer manager.Shutdown()

	if cfg.Status.Enabled {
		statusServer := status.NewServer(cfg.Status.Addr, registry, manager, observability.WithComponent(logger, "status"))
		statusServer.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = statusServer.Stop(ctx)
		}()
	}

	sess := manager.Create()
	if err := sess.Load(context.Background(), contentID); err != nil {
		return fmt.Errorf("loading content: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := registry.SaveScores(ctx); err != nil {
				logger.Warn("saving provider scores", slog.Any("error", err))
			}
			return nil

		case <-ticker.C:
			st := sess.State()
			if st == session.StateFailed {
				return fmt.Errorf("playback failed for %q", contentID)
			}
			if st == session.StatePlaying {
				if h, ok := sess.Handle(); ok {
					_ = sess.UpdatePosition(h.Cursor + 0.5)
				}
			}
		}
	}
}

// newScoreStore builds the configured score store backend.
func newScoreStore(cfg *config.Config, logger *slog.Logger) (provider.ScoreStore, error) {
	if cfg.Store.Driver == "memory" {
		return provider.NewMemoryStore(), nil
	}
	return provider.NewGormStore(cfg.Store, logger)
}

// loggingNotifier reports session side effects through the logger.
func loggingNotifier(logger *slog.Logger) session.Notifier {
	return &session.FuncNotifier{
		SourceChanged: func(id, name string) {
			logger.Info("source changed", slog.String("session_id", id), slog.String("provider", name))
		},
		QualityChanged: func(id string, tier quality.Tier) {
			logger.Info("quality changed", slog.String("session_id", id), slog.String("tier", tier.Name))
		},
		BufferHealth: func(id string, health buffer.Health) {
			logger.Info("buffer health", slog.String("session_id", id), slog.String("health", health.String()))
		},
		RecoverableError: func(id, kind string, err error) {
			logger.Warn("recoverable error", slog.String("session_id", id), slog.String("kind", kind), slog.Any("error", err))
		},
		FatalError: func(id, kind string, err error) {
			logger.Error("fatal error", slog.String("session_id", id), slog.String("kind", kind), slog.Any("error", err))
		},
	}
}
