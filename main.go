package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"deltaflow/config"
	depth "deltaflow/internal/channel/depth"
	"deltaflow/logger"
	"deltaflow/models"
	"deltaflow/reader/binance"
	"deltaflow/trader/delta"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	if cfg.Logging.Format == "" {
		if config.IsProductionLike(env) {
			cfg.Logging.Format = "json"
		} else {
			cfg.Logging.Format = "text"
		}
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Deltaflow.Name,
		"version":     cfg.Deltaflow.Version,
		"environment": env,
	}).Info("starting deltaflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Rest.APIKey != "" && cfg.Rest.APISecret != "" {
		client, err := delta.Delta_REST_NewClient(cfg.Rest.APIKey, cfg.Rest.APISecret, cfg.Rest.BaseURL)
		if err != nil {
			log.WithError(err).Error("failed to create delta rest client")
			os.Exit(1)
		}
		if balance, err := client.Delta_REST_GetWalletBalance(ctx); err != nil {
			log.WithError(err).Warn("failed to fetch wallet balance")
		} else {
			log.WithComponent("main").WithFields(logger.Fields{"balance": balance}).Info("wallet balance")
		}
		if positions, err := client.Delta_REST_GetPositions(ctx); err != nil {
			log.WithError(err).Warn("failed to fetch positions")
		} else {
			log.WithComponent("main").WithFields(logger.Fields{"positions": positions}).Info("open positions")
		}
	} else {
		log.WithComponent("main").Info("DELTA_API_KEY/DELTA_API_SECRET not set; rest client disabled")
	}

	channels := depth.NewChannels(cfg.Channels.UpdateBuffer)
	defer channels.Close()

	callback := func(upd models.DepthUpdate) {
		log.WithComponent("main").WithFields(logger.Fields{
			"symbol":  upd.Symbol,
			"bid":     upd.BestBidPrice,
			"bid_qty": upd.BestBidQty,
			"ask":     upd.BestAskPrice,
			"ask_qty": upd.BestAskQty,
		}).Debug("depth update")
	}

	reader := binance.Binance_FBT_NewReader(cfg, channels, cfg.Stream.Symbols, callback)
	if err := reader.Binance_FBT_Start(ctx); err != nil {
		log.WithError(err).Error("failed to start bookTicker reader")
		os.Exit(1)
	}

	go handleShutdown(cancel)
	<-ctx.Done()

	log.WithComponent("main").Info("shutdown requested")
	reader.Binance_FBT_Stop()
	log.WithComponent("main").Info("deltaflow stopped")
}

func handleShutdown(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	cancel()
}
