// Package main is the entry point for the platform-consolidation scanner.
// It wires the embedded store, the provider client, the data-acquisition
// layer and the scan orchestrator, then runs either a single scan or a
// cron-scheduled daily scan.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quantlab/platformscan/internal/classify"
	"github.com/quantlab/platformscan/internal/config"
	"github.com/quantlab/platformscan/internal/database"
	"github.com/quantlab/platformscan/internal/domain"
	"github.com/quantlab/platformscan/internal/fetch"
	"github.com/quantlab/platformscan/internal/filters"
	"github.com/quantlab/platformscan/internal/modules/bars"
	"github.com/quantlab/platformscan/internal/modules/universe"
	"github.com/quantlab/platformscan/internal/provider"
	"github.com/quantlab/platformscan/internal/scan"
	"github.com/quantlab/platformscan/internal/scancache"
	"github.com/quantlab/platformscan/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting platform scanner")

	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileHistory,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{marketDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("db", db.Name()).Msg("Failed to migrate database")
		}
	}

	universeRepo := universe.NewRepository(marketDB.Conn(), log)
	barRepo := bars.NewRepository(marketDB.Conn(), log)

	transport := provider.NewHTTPTransport(cfg.ProviderBaseURL, cfg.ProviderUser, cfg.ProviderPassword)
	client := provider.NewClient(transport, provider.Options{
		QueryTimeout:  cfg.Scan.QueryTimeout,
		RetryAttempts: cfg.Scan.RetryAttempts,
		RetryDelay:    cfg.Scan.RetryDelay,
	}, log)

	fetcher := fetch.New(barRepo, client, log)
	orchestrator := scan.NewOrchestrator(fetcher, classify.NewPlatform(), log)
	resultCache := scancache.New(cacheDB.Conn(), log)
	scanner := scan.NewScanner(orchestrator, resultCache, []domain.PostFilter{
		filters.Fundamental{MaxPETTM: 100, MinPETTM: 0, MaxPBMRQ: 20},
		filters.IndustryDiversity{MaxPerIndustry: 5},
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func() {
		instruments, err := universeRepo.Active()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load instrument universe")
			return
		}
		if len(instruments) == 0 {
			log.Warn().Msg("Instrument universe is empty, nothing to scan")
			return
		}

		defer func() {
			if err := client.Logout(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Provider logout failed")
			}
		}()

		matches, stats, err := scanner.Run(ctx, instruments, cfg.Scan, func(percent int, message string) {
			log.Info().Int("percent", percent).Msg(message)
		})
		if err != nil {
			log.Error().Err(err).Msg("Scan failed")
			return
		}

		for _, m := range matches {
			log.Info().
				Str("code", m.Instrument.Code).
				Str("name", m.Instrument.DisplayName).
				Bool("breakthrough", m.Ranking.BreakthroughConfirmed).
				Float64("quality", m.Ranking.QualityScore).
				Msg("Match")
		}
		log.Info().
			Int("scanned", stats.TotalScanned).
			Int("matches", stats.MatchCount).
			Msg("Run complete")
	}

	if cfg.CronSpec == "" {
		runOnce()
		return
	}

	runScheduled(ctx, cfg.CronSpec, runOnce, log)
}

// runScheduled runs the scan on the configured cron schedule until the
// process receives a shutdown signal.
func runScheduled(ctx context.Context, spec string, job func(), log zerolog.Logger) {
	c := cron.New()
	if _, err := c.AddFunc(spec, job); err != nil {
		log.Fatal().Err(err).Str("spec", spec).Msg("Invalid cron spec")
	}
	c.Start()
	log.Info().Str("spec", spec).Msg("Scheduler started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	_ = os.Stdout.Sync()
}
