package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "github.com/svirikk/agree-OIV2/config"
	"github.com/svirikk/agree-OIV2/internal/channel"
	"github.com/svirikk/agree-OIV2/internal/engine"
	metrics "github.com/svirikk/agree-OIV2/internal/metrics"
	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/internal/notifier"
	"github.com/svirikk/agree-OIV2/internal/reader/binance"
	"github.com/svirikk/agree-OIV2/internal/writer"
	"github.com/svirikk/agree-OIV2/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	env := appconfig.AppEnvironment()
	if appconfig.IsProductionLike(env) {
		// Production logs are always machine-readable.
		cfg.Logging.Format = "json"
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.OIV2.Name,
		"version":     cfg.OIV2.Version,
		"environment": env,
	}).Info("starting oiv2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Storage.S3.Enabled || os.Getenv("CLOUDWATCH_ENABLED") == "true" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "")
	}

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}

	channels := channel.NewChannels(
		cfg.Channels.TradeBuffer,
		cfg.Channels.EventBuffer,
	)
	defer channels.Close()

	tradeReader := binance.Binance_Trade_NewReader(cfg, channels.Trade, cfg.Source.Binance.Future.Trades.Symbols)
	oiReader := binance.Binance_OI_NewReader(cfg, channels.OI, cfg.Source.Binance.Future.OpenInterest.Symbols)
	priceReader := binance.Binance_MarkPrice_NewReader(cfg, channels.OI, cfg.Source.Binance.Future.MarkPrice.Symbols)

	var sender notifier.Sender
	if cfg.Notifier.Enabled {
		sender = notifier.NewWebhookSender(cfg.Notifier)
	} else {
		log.WithComponent("main").Info("notifier disabled; alerts will only be logged and archived")
	}

	var archiveChan chan models.AlertRecord
	var alertWriter *writer.AlertWriter
	if cfg.Storage.S3.Enabled {
		archiveChan = make(chan models.AlertRecord, 256)
		alertWriter, err = writer.NewAlertWriter(cfg, archiveChan)
		if err != nil {
			log.WithError(err).Error("failed to create alert writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping alert archive")
	}

	eng := engine.NewEngine(cfg, channels, sender, archiveChan)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Start(ctx); err != nil {
			log.WithError(err).Warn("engine failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tradeReader.Binance_Trade_Start(ctx); err != nil {
			log.WithError(err).Warn("binance trade reader failed to start")
		}
	}()

	if cfg.Detector.OpenInterest.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := oiReader.Binance_OI_Start(ctx); err != nil {
				log.WithError(err).Warn("binance open interest reader failed to start")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := priceReader.Binance_MarkPrice_Start(ctx); err != nil {
				log.WithError(err).Warn("binance mark price reader failed to start")
			}
		}()
	} else {
		log.WithComponent("main").Info("open interest analysis disabled; skipping event readers")
	}

	if alertWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := alertWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("alert writer failed to start")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping binance trade reader")
	tradeReader.Binance_Trade_Stop()

	if cfg.Detector.OpenInterest.Enabled {
		log.Info("stopping binance open interest reader")
		oiReader.Binance_OI_Stop()

		log.Info("stopping binance mark price reader")
		priceReader.Binance_MarkPrice_Stop()
	}

	log.Info("stopping detection engine")
	eng.Stop()

	if alertWriter != nil {
		log.Info("stopping alert writer")
		alertWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("oiv2 stopped")
}
