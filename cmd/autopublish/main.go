package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"autopublish/internal/api"
	"autopublish/internal/automation"
	"autopublish/internal/config"
	"autopublish/internal/domain"
	"autopublish/internal/integrations/feedanalyzer"
	"autopublish/internal/integrations/httpjson"
	"autopublish/internal/integrations/openai"
	"autopublish/internal/integrations/wordpress"
	"autopublish/internal/logging"
	"autopublish/internal/pipeline"
	"autopublish/internal/publisher"
	"autopublish/internal/scheduler"
	"autopublish/internal/store"
	"autopublish/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sites := config.NewSites(cfg.SitesFile, logger)
	if err := sites.Load(); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SitesFile).Msg("load sites")
	}
	go func() {
		if err := sites.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("sites watcher stopped")
		}
	}()

	web := httpjson.New(httpjson.Options{Timeout: cfg.HTTPTimeout, UserAgent: cfg.UserAgent})
	genHTTP := httpjson.New(httpjson.Options{
		Timeout:    cfg.HTTPTimeout,
		RatePerSec: cfg.OpenAIRatePerSec,
		Burst:      1,
		UserAgent:  cfg.UserAgent,
	})

	gen := openai.New(genHTTP, openai.Config{
		Endpoint:   cfg.OpenAIEndpoint,
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		ImageModel: cfg.OpenAIImageModel,
	})
	var images domain.ImageGenerator
	if cfg.Images {
		images = gen.Images()
	}
	target := wordpress.New(sites, web, logger)
	analyzer := feedanalyzer.New(sites, web, logger)

	pool := worker.NewPool(cfg.Concurrency, logger)
	pipe := pipeline.New(db, gen, logger)
	pub := publisher.New(db, target, sites, images, pool, cfg.DefaultCategory, logger)
	sched := scheduler.NewService(db, pipe, analyzer, pool, scheduler.Options{
		Interval:       cfg.PollInterval,
		ReanalyzeAfter: cfg.ReanalyzeAfter,
	}, logger)

	ctrl := automation.New(db, sched, pub, analyzer, sites, automation.Config{
		PollInterval:   cfg.PollInterval,
		RestartGrace:   cfg.RestartGrace,
		ReanalyzeAfter: cfg.ReanalyzeAfter,
		Concurrency:    cfg.Concurrency,
		ImagesEnabled:  cfg.Images,
	}, logger)
	if err := ctrl.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("initialize automation")
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServerWithDebug(ctrl, logger, cfg.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()
	if err := ctrl.Shutdown(ctxTimeout); err != nil {
		logger.Warn().Err(err).Msg("scheduler did not drain before timeout")
	}
	_ = srv.Shutdown(ctxTimeout)
	cancel()
}
