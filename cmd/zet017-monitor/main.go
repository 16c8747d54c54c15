package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	zet017 "github.com/zet017/zet017tcp"
	"github.com/zet017/zet017tcp/internal/config"
	"github.com/zet017/zet017tcp/internal/obslog"
)

func main() {
	configPath := flag.String("config", "/etc/zet017/server.yaml", "path to server config file")
	start := flag.Bool("start", false, "start acquisition on every device once connected")
	interval := flag.Duration("interval", 2*time.Second, "state report interval")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := obslog.New(obslog.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	defer logCloser.Close()

	server, err := zet017.NewServerFromConfig(cfg, logger)
	if err != nil {
		logger.Error("server startup failed", "error", err)
		os.Exit(1)
	}
	defer server.Close()

	logger.Info("monitoring devices", "count", server.DeviceCount())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	started := make(map[int]bool)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			logger.Info("shutting down")
			return
		case <-ticker.C:
			for i := 0; i < server.DeviceCount(); i++ {
				reportDevice(server, i, *start, started, logger)
			}
		}
	}
}

func reportDevice(server *zet017.Server, index int, start bool, started map[int]bool, logger *slog.Logger) {
	state, err := server.DeviceState(index)
	if err != nil {
		logger.Warn("state read failed", "index", index, "error", err)
		return
	}

	info, _ := server.DeviceInfo(index)
	logger.Info("device state",
		"ip", info.IP,
		"name", info.Name,
		"connected", state.Connected,
		"reconnect", state.Reconnect,
		"pointer_adc", state.PointerADC,
		"buffer_adc", state.BufferSizeADC,
	)

	if start && state.Connected && !started[index] {
		if err := server.StartDevice(index, false); err != nil {
			logger.Warn("start failed", "index", index, "error", err)
			return
		}
		started[index] = true
		logger.Info("acquisition started", "ip", info.IP)
	}
}
