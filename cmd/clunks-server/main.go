// Package main запускает сервер clunks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/udisondev/clunks/internal/appdir"
	"github.com/udisondev/clunks/internal/logging"
	"github.com/udisondev/clunks/pkg/broker"
	"github.com/udisondev/clunks/pkg/config"
	"github.com/udisondev/clunks/pkg/metrics"
	"github.com/udisondev/clunks/pkg/protocol"
	"github.com/udisondev/clunks/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: XDG config dir)")
	initOnly := flag.Bool("init", false, "initialize app directory and exit")
	flag.Parse()

	// Инициализация директории приложения
	if err := appdir.Init(); err != nil {
		slog.Error("init app directory", "error", err)
		os.Exit(1)
	}

	if *initOnly {
		fmt.Printf("Initialized: %s\n", appdir.Dir())
		fmt.Printf("Config: %s\n", appdir.ConfigPath())
		fmt.Printf("Logs: %s\n", appdir.LogsDir())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Open(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(cfg.Log)

	slog.Info("clunks server starting",
		"config_dir", appdir.Dir(),
		"tcp", cfg.Server.TCPAddr(),
		"udp_port", cfg.Server.UDPPort,
	)

	// pprof сервер для профилирования (опционально)
	if pprofAddr := os.Getenv("CLUNKS_PPROF"); pprofAddr != "" {
		go func() {
			slog.Info("pprof server started", "addr", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New("clunks")
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		m.MustRegister(reg)
		stop := serveMetrics(cfg.Metrics.Addr, reg)
		defer stop()
	}

	opts := []server.Option{
		server.WithHandshakeTimeout(cfg.Channel.HandshakeTimeout),
		server.WithWriteTimeout(cfg.Channel.WriteTimeout),
		server.WithHeartbeatInterval(cfg.Channel.HeartbeatInterval),
		server.WithMaxMissedHeartbeats(cfg.Channel.MaxMissedHeartbeats),
		server.WithMaxFrameSize(cfg.Channel.MaxFrameSize),
		server.WithMaxClients(cfg.Limits.MaxClients),
		server.WithRateLimit(cfg.Limits.RateLimitPerSec, cfg.Limits.RateLimitBurst),
		server.WithMetrics(m),
		server.WithOnClientAdded(func(c *server.ClientModel) {
			slog.Info("client joined", "client_id", c.ID, "session_id", c.SessionID, "remote", c.Remote)
		}),
	}

	// Мост к хранилищу включается только при заданных NATS URL
	var (
		srv    *server.Server
		bridge *broker.Bridge
	)
	if len(cfg.NATS.URLs) > 0 {
		b, err := broker.New(broker.Config{
			URLs:           cfg.NATS.URLs,
			Name:           "clunks-server",
			ReconnectWait:  cfg.NATS.ReconnectWait,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			RequestTimeout: cfg.NATS.RequestTimeout,
		})
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer b.Close()

		bridge = broker.NewBridge(broker.NewRequester(b))
		opts = append(opts, server.WithOnDispatch(bridge.Dispatch))
	} else {
		slog.Warn("nats.urls is empty, Command and Login are answered with failure")
		opts = append(opts, server.WithOnDispatch(func(p protocol.Packet, c *server.ClientModel) {
			switch p.DataID {
			case protocol.Command, protocol.Login:
				srv.Add(protocol.NewPacket(protocol.Status, c.ID, protocol.StatusFailure), c)
			}
		}))
	}

	srv, err = server.Listen(cfg.Channel.BufferSize, cfg.Server.Host, cfg.Server.TCPPort, cfg.Server.UDPPort, opts...)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if bridge != nil {
		bridge.Attach(srv)
	}

	return srv.Serve(ctx)
}

func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("metrics server started", "addr", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
	}
}
