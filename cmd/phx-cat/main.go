// phx-cat connects to a channel endpoint, joins the configured topics, and
// prints every routed message to stdout as JSON lines.
// Usage: go run ./cmd/phx-cat --config configs/client.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dforsythe/phxsocket"
	"github.com/dforsythe/phxsocket/internal/config"
	"github.com/dforsythe/phxsocket/internal/topics"
	"github.com/dforsythe/phxsocket/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/client.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Topics) == 0 {
		logger.Error("no topics configured")
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

	out := json.NewEncoder(os.Stdout)
	sub := phxsocket.NewFuncSubscriber(func(msg *phxsocket.Message) {
		line := map[string]any{
			"topic":   msg.Topic,
			"event":   msg.Event,
			"payload": msg.Payload,
		}
		if msg.Ref != "" {
			line["ref"] = msg.Ref
		}
		if msg.JoinRef != "" {
			line["join_ref"] = msg.JoinRef
		}
		if err := out.Encode(line); err != nil {
			logger.Warn("failed to write message", "error", err)
		}
	})
	defer sub.Close()

	keeper := topics.NewKeeper(sock, cfg.Topics, sub, logger)
	if err := keeper.Run(ctx); err != nil {
		logger.Error("failed to join topics", "error", err)
		os.Exit(1)
	}
	if err := sock.Err(); err != nil {
		logger.Error("socket terminated", "error", err)
		os.Exit(1)
	}
}
