package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"arenatracker/collector/internal/collector"
	"arenatracker/collector/internal/config"
	"arenatracker/collector/internal/export"
	"arenatracker/collector/internal/host"
	"arenatracker/collector/internal/journal"
	"arenatracker/collector/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "collector:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	writer, manifest, err := journal.NewWriter(cfg.JournalDir, cfg.SegmentMaxBytes, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer writer.Close()
	logger.Info("journal opened",
		zap.String("run_id", manifest.RunID), zap.String("dir", cfg.JournalDir))

	//1.- The flat-file exporter is optional; it observes only records that
	// survived deduplication.
	var observers []journal.AcceptFunc
	if cfg.ExportDir != "" {
		exporter, err := export.NewExporter(cfg.ExportDir, logger)
		if err != nil {
			return fmt.Errorf("prepare export: %w", err)
		}
		observers = append(observers, exporter.Accept)
	}

	sink, err := journal.NewSink(writer, cfg.DedupCapacity, logger, observers...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//2.- The bridge reconnects on its own; readiness stays false until the
	// game helper has pushed its state frames.
	bridge := host.NewBridge(cfg.BridgeURL, logger)
	bridge.Start(ctx)

	controller, err := collector.New(collector.Config{
		Identity:          bridge.Identity(),
		Inventory:         bridge.Inventory(),
		Sink:              sink,
		Channels:          cfg.Channels,
		ResyncInterval:    cfg.ResyncInterval,
		ReadinessInterval: cfg.ReadinessInterval,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	if err := controller.OnStart(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	controller.OnQuit()
	controller.Wait()
	logger.Info("collector stopped")
	return nil
}
