// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/config"
	"github.com/OpenAgricultureFoundation/gro-controller/internal/httpserver"
	"github.com/OpenAgricultureFoundation/gro-controller/internal/logging"
	"github.com/OpenAgricultureFoundation/gro-controller/internal/metrics"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/backend"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/bot"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the greenhouse controller",
	Long: `Connect to the groduino, log in to the backend and run the control loop.

The controller loads the enclosure topology once at startup, then forever:
  - reads telemetry from the microcontroller and routes it to sensing points
  - drives every actuator toward the state its control law asks for
  - pulls overrides and setpoints and posts buffered readings

A lost link is reconnected after protocol.reconnectDelay. SIGINT or SIGTERM
stops the controller after in-flight posts finish.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.NewAppMetrics(reg)

	be, err := openBackend(ctx, cfg, m, logger.Named("backend"))
	if err != nil {
		return err
	}
	topo, err := be.Topology(ctx)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	engine, err := bot.New(topo, be, engineConfig(cfg), logger.Named("bot"), bot.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var current atomic.Pointer[groduino.Link]
	linkStats := func() (groduino.Counters, bool) {
		if l := current.Load(); l != nil {
			return l.Stats().Snapshot(), true
		}
		return groduino.Counters{}, false
	}
	metrics.RegisterLinkStats(reg, func() groduino.Counters {
		c, _ := linkStats()
		return c
	})
	metrics.RegisterPosterGauges(reg, engine.Poster())

	if cfg.HTTP.Enable {
		var handler http.Handler
		if cfg.Metrics.Enable {
			handler = metrics.Handler(reg)
		}
		srv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, handler, httpserver.Sources{
			Ready:  engine.Ready,
			Status: engine.Status,
			Link:   linkStats,
		})
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	for {
		err := runLink(ctx, cfg, engine, &current, m, logger)
		if ctx.Err() != nil {
			logger.Info("shutting down")
			return nil
		}
		logger.Warn("link lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", cfg.Protocol.ReconnectDelay))
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-time.After(cfg.Protocol.ReconnectDelay):
		}
	}
}

// runLink opens the stream, performs the handshake and runs the engine
// until the link fails.
func runLink(ctx context.Context, cfg *config.Config, engine *bot.Engine, current *atomic.Pointer[groduino.Link],
	m *metrics.AppMetrics, logger *zap.Logger) error {
	stream, info, err := OpenStream(cfg)
	if err != nil {
		m.ObserveConnect(err)
		return err
	}
	defer stream.Close()

	logger.Info("connecting", zap.String("connection", info))
	link, err := groduino.Connect(ctx, stream, linkConfig(cfg), logger.Named("link"))
	m.ObserveConnect(err)
	if err != nil {
		return err
	}
	current.Store(link)
	defer current.Store(nil)

	return engine.Run(ctx, link)
}

// openBackend returns the file backend or a logged-in REST client. Login is
// retried until it succeeds or ctx is cancelled.
func openBackend(ctx context.Context, cfg *config.Config, m *metrics.AppMetrics, logger *zap.Logger) (backend.Backend, error) {
	b := cfg.Backend
	switch b.Kind {
	case "file":
		logger.Info("using file backend", zap.String("file", b.File))
		return backend.NewFileBackend(b.File, logger), nil
	case "http", "":
	default:
		return nil, fmt.Errorf("unknown backend kind %q", b.Kind)
	}

	client := backend.NewClient(backend.ClientConfig{
		BaseURL:            b.BaseURL,
		Username:           b.Username,
		Password:           b.Password,
		Retries:            b.Retries,
		Timeout:            b.Timeout,
		WarnResults:        b.WarnResults,
		MaxResults:         b.MaxResults,
		SetPointsPath:      b.SetPointsPath,
		InsecureSkipVerify: b.InsecureSkipVerify,
	}, m, logger)

	for {
		err := client.Login(ctx)
		if err == nil {
			return client, nil
		}
		logger.Error("backend login failed, retrying",
			zap.String("url", b.BaseURL),
			zap.Duration("delay", cfg.Protocol.ReconnectDelay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Protocol.ReconnectDelay):
		}
	}
}

func engineConfig(cfg *config.Config) bot.Config {
	roles := make(map[element.Role]string, len(cfg.Climate.Roles))
	for role, id := range cfg.Climate.Roles {
		roles[element.Role(role)] = id
	}
	e := cfg.Engine
	p := cfg.Backend.Poster
	return bot.Config{
		ServerUpdatePeriod: e.ServerUpdatePeriod,
		StatusInterval:     e.StatusInterval,
		StatusFile:         e.StatusFile,
		ProfilerClearEvery: e.ProfilerClearEvery,
		IdleDelay:          e.IdleDelay,
		FailedBatchQueue:   e.FailedBatchQueue,
		SensingPoint:       cfg.Element.SensingPoint,
		Actuator:           cfg.Element.Actuator,
		Poster: backend.PosterConfig{
			MaxWorkers: p.MaxWorkers,
			MinWait:    p.MinWait,
			MaxWait:    p.MaxWait,
			WaitStep:   p.WaitStep,
			WaitRelief: p.WaitRelief,
		},
		Climate: bot.ClimateConfig{
			Enabled:     cfg.Climate.Enabled,
			Temperature: cfg.Climate.Temperature,
			Humidity:    cfg.Climate.Humidity,
			Light:       cfg.Climate.Light,
			Roles:       roles,
			Thresholds:  cfg.Climate.Thresholds,
		},
	}
}
