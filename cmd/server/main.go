// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edgevision/obstacle-relay/internal/api"
	"github.com/edgevision/obstacle-relay/internal/camera"
	"github.com/edgevision/obstacle-relay/internal/detector"
	"github.com/edgevision/obstacle-relay/internal/hub"
	"github.com/edgevision/obstacle-relay/internal/ingest"
	"github.com/edgevision/obstacle-relay/internal/logging"
	"github.com/edgevision/obstacle-relay/internal/pipeline"
	"github.com/edgevision/obstacle-relay/pkg/config"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/etc/obstacle-relay/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting obstacle relay", "config", configPath, "frame_source", cfg.FrameSource, "detector", cfg.Detector.Type)

	for _, dir := range []string{cfg.Storage.Path, cfg.Storage.ImagesDir(), cfg.Storage.ResultsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create storage directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloaders := []config.Reloader{}

	// Frame source: either a local camera command or a push-ingest
	// queue fed by broker subscriptions.
	var source core.FrameSource
	var registry *ingest.Registry
	var saver *ingest.Saver
	switch cfg.FrameSource {
	case "ingest":
		ingestLogger := logger.With("component", "ingest")
		queue, err := ingest.NewQueue(cfg.Storage.QueueFile())
		if err != nil {
			logger.Error("failed to open frame queue", "path", cfg.Storage.QueueFile(), "error", err)
			os.Exit(1)
		}
		saver, err = ingest.NewSaver(cfg.Storage.ImagesDir(), queue, ingestLogger)
		if err != nil {
			logger.Error("failed to initialize frame saver", "error", err)
			os.Exit(1)
		}

		registry = ingest.NewRegistry(ingestLogger)
		registerSources(registry, cfg.Sources, ingestLogger)
		connected := registry.ConnectAll(ctx)
		logger.Info("ingest sources connected", "healthy", connected, "configured", len(cfg.Sources))

		messages := make(chan ingest.Message, 64)
		registry.StartAll(ctx, messages)
		go saver.Run(ctx, messages)

		source = ingest.NewQueueSource(queue, ingestLogger)
	default:
		capture, err := camera.New(cfg, logger.With("component", "camera"))
		if err != nil {
			logger.Error("failed to initialize camera", "error", err)
			os.Exit(1)
		}
		reloaders = append(reloaders, capture)
		source = capture
	}

	var det core.Detector
	detectorLogger := logger.With("component", "detector")
	switch cfg.Detector.Type {
	case "local":
		local, err := detector.NewLocal(cfg.Detector, cfg.Storage.ResultsDir(), detectorLogger)
		if err != nil {
			logger.Error("failed to initialize local detector", "error", err)
			os.Exit(1)
		}
		reloaders = append(reloaders, local)
		det = local
	default:
		det = detector.NewRemote(cfg.Detector, detectorLogger)
	}

	broadcastHub := hub.New(logger.With("component", "hub"))
	cycles := logging.NewCycleLogger(logger.With("component", "pipeline"))

	coordinator := pipeline.New(
		source,
		det,
		broadcastHub,
		time.Duration(cfg.Capture.IntervalSeconds)*time.Second,
		cycles,
		logger.With("component", "pipeline"),
	)
	// Only ingested frames carry broker-assigned metadata worth keeping
	// in the processed log; camera captures are already on disk.
	if cfg.FrameSource == "ingest" {
		coordinator = coordinator.WithProcessedLog(cfg.Storage.ProcessedLog())
	}
	reloaders = append(reloaders, coordinator)

	watcher := config.NewWatcher(configPath, logger, reloaders...)
	go watcher.Watch(ctx)

	server := api.NewServer(cfg.Port, coordinator, broadcastHub, ctx, logger.With("component", "api"))
	if err := server.Start(ctx); err != nil {
		logger.Error("api server failed", "error", err)
	}

	// Shutdown: stop the loop, wait for it, then stop the ingest path
	// and close every client connection.
	coordinator.Stop()
	select {
	case <-coordinator.Done():
	case <-time.After(10 * time.Second):
		logger.Warn("pipeline loop did not stop within grace period")
	}

	if registry != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		registry.StopAll(stopCtx)
		cancel()
	}
	if saver != nil {
		saver.Wait()
	}
	broadcastHub.CloseAll()
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// registerSources builds one broker subscription per configured entry.
// Unknown types are logged and skipped rather than aborting startup.
func registerSources(registry *ingest.Registry, sources []config.SourceConfig, logger *slog.Logger) {
	for _, sc := range sources {
		c := sc.Config
		switch sc.Type {
		case "mqtt":
			registry.Register(ingest.NewMQTT5(sc.Name, c["broker_url"], c["topic"], logger))
		case "kafka":
			registry.Register(ingest.NewKafka(sc.Name, strings.Split(c["brokers"], ","), c["topic"], c["group_id"], logger))
		case "rabbitmq":
			registry.Register(ingest.NewRabbit(sc.Name, c["url"], c["queue"], logger))
		case "amqp":
			registry.Register(ingest.NewAMQP10(sc.Name, c["url"], c["queue"], logger))
		case "solace":
			registry.Register(ingest.NewSolace(sc.Name, c["host"], c["vpn"], c["username"], c["password"], c["topic"], logger))
		default:
			logger.Warn("unknown ingest source type, skipping", "name", sc.Name, "type", sc.Type)
		}
	}
}
