// Command strideline serves a cached, enriched activity feed backed by a
// rate-limited upstream activity API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tobyhaynes/strideline/internal/cache"
	"github.com/tobyhaynes/strideline/internal/config"
	"github.com/tobyhaynes/strideline/internal/db"
	"github.com/tobyhaynes/strideline/internal/enrich"
	"github.com/tobyhaynes/strideline/internal/logging"
	"github.com/tobyhaynes/strideline/internal/music"
	"github.com/tobyhaynes/strideline/internal/quota"
	"github.com/tobyhaynes/strideline/internal/scheduler"
	"github.com/tobyhaynes/strideline/internal/strava"
	"github.com/tobyhaynes/strideline/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := cache.NewStore(cfg.Cache.Path, logging.Component(log, "cache"))

	governor := quota.New(quota.Config{
		WindowLimit:    cfg.Quota.WindowLimit,
		Window:         cfg.Quota.Window,
		DailyLimit:     cfg.Quota.DailyLimit,
		ListingReserve: cfg.Quota.ListingReserve,
	})

	client := strava.New(strava.Config{
		ClientID:     cfg.Upstream.ClientID,
		ClientSecret: cfg.Upstream.ClientSecret,
		RefreshToken: cfg.Upstream.RefreshToken,
		BaseURL:      cfg.Upstream.BaseURL,
		Timeout:      cfg.Upstream.Timeout,
	}, strava.WithLogger(logging.Component(log, "upstream")))

	processorOpts := []enrich.Option{
		enrich.WithBatchSize(cfg.Enrich.BatchSize),
		enrich.WithListing(cfg.Enrich.ListingPages, cfg.Enrich.PerPage),
		enrich.WithLogger(logging.Component(log, "enrich")),
	}

	var searcher music.Searcher
	if cfg.Music.SpotifyEnabled() {
		searcher, err = music.NewSpotifySearcher(ctx, cfg.Music.SpotifyClientID, cfg.Music.SpotifyClientSecret)
		if err != nil {
			return fmt.Errorf("creating music searcher: %w", err)
		}
	}
	detector := music.NewDetector(searcher, music.WithLogger(logging.Component(log, "music")))
	processorOpts = append(processorOpts, enrich.WithMusicHook(detector))

	var mirror web.Mirror
	if cfg.Database.Enabled() {
		database, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()

		notifier := db.NewNotifier(database, logging.Component(log, "mirror"))
		defer notifier.Close()
		processorOpts = append(processorOpts, enrich.WithHandoff(notifier))
		mirror = database.Activities()
	}

	processor := enrich.New(store, client, governor, processorOpts...)

	sched := scheduler.New(store, processor,
		scheduler.WithInterval(cfg.Scheduler.Interval),
		scheduler.WithEmergencyTimeout(cfg.Scheduler.EmergencyTimeout),
		scheduler.WithLogger(logging.Component(log, "scheduler")),
	)
	sched.Bootstrap(ctx)
	sched.Start(ctx)

	server := web.NewServer(web.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, store, sched, mirror, logging.Component(log, "http"))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	sched.Wait()

	log.Info().Msg("stopped")
	return nil
}
