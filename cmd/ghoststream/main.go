// Command ghoststream runs the transcoding server: it profiles the host's
// hardware once at startup, then serves the REST, WebSocket, and HLS
// surfaces described in the external interfaces table until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/BleedingXiko/GhostStream/internal/api"
	"github.com/BleedingXiko/GhostStream/internal/config"
	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/hlsserver"
	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/logger"
	"github.com/BleedingXiko/GhostStream/internal/metrics"
	"github.com/BleedingXiko/GhostStream/internal/progressbus"
	"github.com/BleedingXiko/GhostStream/internal/store"
	"github.com/BleedingXiko/GhostStream/internal/telemetry"
	"github.com/BleedingXiko/GhostStream/internal/transcode"
)

// Version is overridable at link time: -ldflags "-X main.Version=1.2.3".
var Version = "dev"

// Exit codes follow the health/readiness contract in §2.3: 0 clean, 1
// fatal startup, 2 encoder tool missing.
const (
	exitOK             = 0
	exitFatal          = 1
	exitEncoderMissing = 2
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./config/ghoststream.yaml)")
	envPath := flag.String("env", ".env", "Path to an optional .env override file")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		if p := os.Getenv("GHOSTSTREAM_CONFIG_PATH"); p != "" {
			cfgPath = p
		} else {
			cfgPath = "config/ghoststream.yaml"
		}
	}

	config.LoadDotEnv(*envPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Init("info")
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(exitFatal)
	}
	config.ApplyEnvOverrides(cfg)
	logger.Init(cfg.Logging.Level)

	hwReg, caps, err := hardware.ProfileWithRegistry(cfg.FFmpegPath)
	if err != nil {
		logger.Error("encoder tool not found", "ffmpeg_path", cfg.FFmpegPath, "error", err)
		os.Exit(exitEncoderMissing)
	}
	logger.Info("hardware profiled", "tier", caps.Tier, "software_only", caps.SoftwareOnly, "vram_mb", caps.VRAMMB)

	gpuTool := ""
	if caps.VRAMMB > 0 {
		gpuTool = "nvidia-smi"
	}
	sampler := telemetry.New(gpuTool, caps.HasBattery)
	sampler.Start()
	defer sampler.Stop()

	st, err := store.NewSQLiteStore(cfg.StateDirectory + "/ghoststream.db")
	if err != nil {
		logger.Error("failed to open aggregate store", "error", err)
		os.Exit(exitFatal)
	}
	defer st.Close()

	registry := jobs.NewRegistry()
	registry.SetHardwareRegistry(hwReg)
	registry.Subscribe(store.NewOutcomeRecorder(st))

	janitor := jobs.NewJanitor(registry,
		time.Duration(cfg.Janitor.RetentionTTLSeconds)*time.Second,
		cfg.Janitor.MaxJobs,
		cfg.Janitor.MaxTerminalRetained)
	janitor.Start()
	defer janitor.Stop()

	hub := progressbus.NewHub()
	registry.Subscribe(hub)
	go hub.Run()
	defer hub.Stop()

	dispatcher := transcode.NewDispatcher(registry, hwReg, caps, sampler, cfg)
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	go dispatcher.Run(dispatchCtx)
	defer cancelDispatch()

	if cfg.Metrics.Enabled {
		metrics.SetAppInfo(Version, runtime.Version())
	}

	handler := api.NewHandler(registry, dispatcher, caps, sampler, st)
	hls := hlsserver.NewServer(registry)
	wsHandler := progressbus.NewHandler(hub)
	mux := api.NewRouter(handler, hls, wsHandler, cfg.Metrics.Enabled, cfg.Security.APIKey)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.WithMetrics(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("ghoststream starting", "version", Version, "addr", addr, "tier", caps.Tier)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(exitFatal)
	}

	logger.Info("ghoststream stopped")
	os.Exit(exitOK)
}
