// Package main is the entry point for the stake arena service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"stake-arena/internal/bot"
	"stake-arena/internal/config"
	"stake-arena/internal/metrics"
	"stake-arena/internal/notify"
	"stake-arena/internal/pkg/db"
	"stake-arena/internal/pkg/lock"
	"stake-arena/internal/repository"
	"stake-arena/internal/service"
	"stake-arena/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(&cfg.Log)
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// The Telegram client is optional and shared by the bot and the
	// notification sink.
	var client *tele.Bot
	if cfg.Bot.Token != "" {
		client, err = bot.NewClient(cfg.Bot.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
	}

	sinks := notify.Multi{notify.LogPublisher{}}
	if client != nil {
		sinks = append(sinks, notify.NewTelegramPublisher(client, cfg.Bot.NotifyChats))
	}
	events := notify.NewAsync(sinks, cfg.Notify.Buffer)
	defer events.Close()

	// Initialize repositories
	walletRepo := repository.NewWalletRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)
	matchRepo := repository.NewMatchRepository(dbPool.Pool)
	gameRepo := repository.NewGameRepository(dbPool.Pool)

	// Initialize services
	ledger := service.NewLedger(dbPool, walletRepo, txRepo)
	if _, err := ledger.EnsureWallet(ctx, cfg.Settlement.PlatformAccountID); err != nil {
		log.Fatal().Err(err).Msg("Failed to create platform wallet")
	}

	settlement := service.NewSettlement(dbPool, ledger, matchRepo, gameRepo, events, cfg.Settlement)
	matchmaking := service.NewMatchmaking(dbPool, ledger, matchRepo, gameRepo, events, cfg.Matchmaking)
	matches := service.NewMatches(dbPool, matchRepo, gameRepo, settlement, events, lock.NewKeyed())
	stats := service.NewStats(matchRepo, txRepo)

	sweeper := worker.NewSettlementSweeper(settlement, cfg.Settlement.SweepInterval, cfg.Settlement.SweepBatch)
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start settlement sweeper")
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := dbPool.HealthCheck(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var telegramBot *bot.Bot
	if client != nil {
		telegramBot = bot.New(client, &bot.Dependencies{
			Config:      cfg,
			Ledger:      ledger,
			Matchmaking: matchmaking,
			Matches:     matches,
			Stats:       stats,
		})
		go telegramBot.Start()
	} else {
		log.Warn().Msg("No bot token configured, running without Telegram")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if telegramBot != nil {
		telegramBot.Stop()
	}
	if err := sweeper.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop settlement sweeper")
	}
	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}
	log.Info().Msg("Stopped gracefully")
}

func setupLogger(cfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
