package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "wisefido-kiosk/common/logger"
	"wisefido-kiosk/internal/config"
	"wisefido-kiosk/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-kiosk-scanner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting wisefido-kiosk-scanner service",
		zap.String("station_id", cfg.Station.ID),
		zap.Int("cameras", len(cfg.Capture.Cameras)),
	)

	// 手动输入从 stdin 读取，访客提示写到 stdout
	svc, err := service.NewScannerService(cfg, os.Stdin, os.Stdout, log)
	if err != nil {
		log.Fatal("Failed to create scanner service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 手动输入结束时 Start 正常返回
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- svc.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-doneChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
	}
	cancel()

	if err := svc.Stop(context.Background()); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
