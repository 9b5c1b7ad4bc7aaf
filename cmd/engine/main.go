// Package main runs the lottery engine: REST API, settlement
// scheduler, and the local randomness beacon.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/lottery_engine/internal/app"
	"github.com/R3E-Network/lottery_engine/internal/app/chain"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/httpapi"
	"github.com/R3E-Network/lottery_engine/internal/app/services/engine"
	"github.com/R3E-Network/lottery_engine/internal/app/storage/postgres"
	"github.com/R3E-Network/lottery_engine/internal/config"
	"github.com/R3E-Network/lottery_engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	listen := flag.String("listen", "", "Override HTTP listen address")
	flag.Parse()

	if v := os.Getenv("ENGINE_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.NewDefault("engine").WithError(err).Error("load config")
		os.Exit(1)
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}

	log := logger.New("engine", os.Stdout, cfg.LogLevel)

	secret := []byte(cfg.Beacon.Secret)
	if len(secret) == 0 {
		if v := os.Getenv("BEACON_SECRET"); v != "" {
			secret = []byte(v)
		} else {
			log.Warn("beacon secret not set; draw proofs use an empty key")
		}
	}

	stores := app.Stores{}
	if dsn := cfg.Postgres.DSN; dsn != "" {
		db, err := postgres.Connect(dsn)
		if err != nil {
			log.WithError(err).Error("connect postgres")
			os.Exit(1)
		}
		defer db.Close()
		store := postgres.New(db)
		stores = app.Stores{Entries: store, Settlements: store, Players: store}
		log.Info("journaling to postgres")
	} else {
		log.Info("no postgres dsn; journaling in memory")
	}

	params := engine.Params{
		Admin:         cfg.Engine.Admin,
		Vault:         cfg.Engine.Vault,
		TicketPrice:   cfg.Engine.TicketPrice,
		ReferralBps:   cfg.Engine.ReferralBps,
		BonusShareBps: cfg.Engine.BonusShareBps,
		DrawTimeout:   cfg.Engine.DrawTimeout,
	}
	for _, tier := range cfg.Engine.Tiers {
		params.Tiers = append(params.Tiers, engine.TierConfig{
			Kind:            lottery.TierKind(tier.Kind),
			ShareBps:        tier.ShareBps,
			SplitsBps:       tier.SplitsBps,
			MinParticipants: tier.MinParticipants,
			MinPot:          tier.MinPot,
		})
	}

	application, err := app.New(stores, app.Options{
		Params:       params,
		Schedules:    cfg.Schedules(),
		BeaconSecret: secret,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	// Local runs need spendable balances; chain deployments replace
	// the bank via app.Options.Token.
	if bank, ok := application.Token.(*chain.Bank); ok {
		if v := os.Getenv("DEV_MINT_ADDRESSES"); v != "" {
			devMint(bank, v, cfg.Engine.TicketPrice, log)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	handler := httpapi.NewHandler(application.Engine, log.Named("httpapi"), httpapi.Options{
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTP.Listen).Info("http api listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("http server")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("stopped")
}

// devMint seeds comma-separated addresses with spendable balance so a
// fresh local instance can take deposits immediately.
func devMint(bank *chain.Bank, addresses string, ticketPrice int64, log *logger.Logger) {
	for _, addr := range strings.Split(addresses, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		bank.Mint(addr, 1000*ticketPrice)
		log.WithField("address", addr).Info("minted dev balance")
	}
}
