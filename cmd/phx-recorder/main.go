// phx-recorder connects to a channel endpoint, joins the configured topics,
// and batch-inserts every routed message into PostgreSQL.
// Usage: go run ./cmd/phx-recorder --config configs/recorder.local.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dforsythe/phxsocket"
	"github.com/dforsythe/phxsocket/internal/config"
	"github.com/dforsythe/phxsocket/internal/database"
	"github.com/dforsythe/phxsocket/internal/recorder"
	"github.com/dforsythe/phxsocket/internal/topics"
	"github.com/dforsythe/phxsocket/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/recorder.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRecorder(); err != nil {
		logger.Error("invalid recorder config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := recorder.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	rec := recorder.New(cfg.Recorder, pool, logger)

	sock, err := phxsocket.NewSocket(phxsocket.Config{
		URL:               cfg.Socket.URL,
		ProtocolVersion:   cfg.Socket.ProtocolVersion,
		Params:            cfg.Socket.Params,
		Headers:           cfg.Socket.HTTPHeaders(),
		HeartbeatInterval: cfg.Socket.HeartbeatInterval,
		ReconnectInterval: cfg.Socket.ReconnectInterval,
		DisableReconnect:  cfg.Socket.DisableReconnect,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create socket", "error", err)
		os.Exit(1)
	}
	if err := sock.Start(ctx); err != nil {
		logger.Error("failed to start socket", "error", err)
		os.Exit(1)
	}
	defer sock.Stop()

	keeper := topics.NewKeeper(sock, cfg.Topics, rec, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(gctx)
	})
	g.Go(func() error {
		if err := keeper.Run(gctx); err != nil {
			return fmt.Errorf("keep topics joined: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-sock.Done():
			if err := sock.Err(); err != nil {
				return fmt.Errorf("socket terminated: %w", err)
			}
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("recorder exited with error", "error", err)
		os.Exit(1)
	}

	stats := rec.Stats()
	logger.Info("recorder exited",
		"received", stats.Received,
		"inserted", stats.Inserts,
		"dropped", stats.Dropped,
	)
}
