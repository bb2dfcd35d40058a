package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-bridge"
	"github.com/edgeo-scada/modbus-bridge/internal/admin"
	"github.com/edgeo-scada/modbus-bridge/internal/config"
	"github.com/edgeo-scada/modbus-bridge/internal/metrics"
	"github.com/edgeo-scada/modbus-bridge/internal/registers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a register map over Modbus TCP",
	Long: `Serve a register map over Modbus TCP to a single client.

Only one client is served at a time; further connection attempts wait in the
listen backlog until the current client disconnects.`,
	Example: `  modbus-bridge serve --listen :1502 --registers plant.yaml
  modbus-bridge serve --registers plant.yaml --store state.db --admin 127.0.0.1:9102
  MODBUS_BRIDGE_LISTEN=:5020 modbus-bridge serve`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("listen", "l", ":502", "Modbus TCP listen address")
	f.Duration("poll-interval", 10*time.Millisecond, "Interval between engine polls")
	f.Duration("frame-timeout", modbus.DefaultFrameTimeout, "Drop a client whose partial frame stalls this long (0 disables)")
	f.Duration("idle-timeout", 0, "Drop a client that sends nothing this long (0 disables)")
	f.Duration("write-timeout", modbus.DefaultWriteTimeout, "Drop a client that stops reading responses for this long")
	f.StringP("registers", "r", "", "Register map file (YAML)")
	f.String("store", "", "SQLite database persisting holding register writes")
	f.String("admin", "", "Admin HTTP listen address (empty disables)")

	mustBind("listen", f.Lookup("listen"))
	mustBind("poll_interval", f.Lookup("poll-interval"))
	mustBind("frame_timeout", f.Lookup("frame-timeout"))
	mustBind("idle_timeout", f.Lookup("idle-timeout"))
	mustBind("write_timeout", f.Lookup("write-timeout"))
	mustBind("registers.file", f.Lookup("registers"))
	mustBind("registers.store", f.Lookup("store"))
	mustBind("admin.listen", f.Lookup("admin"))
}

func runServe(cmd *cobra.Command, args []string) error {
	gateway, closeGateway, err := buildGateway(cfg.Registers)
	if err != nil {
		return err
	}
	defer closeGateway()

	engineMetrics := modbus.NewEngineMetrics()
	engine := modbus.NewEngine(gateway, modbus.NewTCPTransport(cfg.Listen, modbus.WithWriteTimeout(cfg.WriteTimeout)),
		modbus.WithLogger(logger),
		modbus.WithMetrics(engineMetrics),
		modbus.WithFrameTimeout(cfg.FrameTimeout),
		modbus.WithIdleTimeout(cfg.IdleTimeout),
		modbus.WithOnDisconnect(func(session, remote string, err error) {
			if err != nil {
				logger.Debug("session ended",
					slog.String("session", session),
					slog.String("remote", remote),
					slog.String("error", err.Error()))
			}
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return err
	}

	if cfg.Admin.Listen != "" {
		reg := metrics.NewRegistry(metrics.NewCollector(engineMetrics, engine.State))
		srv := admin.NewServer(cfg.Admin.Listen, engine, reg, logger)
		if err := srv.Start(); err != nil {
			engine.Stop()
			return fmt.Errorf("admin: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("admin shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	err = engine.Run(ctx, cfg.PollInterval)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete",
		slog.Int64("connections", engineMetrics.ConnectionsAccepted.Value()),
		slog.Int64("frames", engineMetrics.FramesReceived.Value()))
	return nil
}

// buildGateway loads the register map and wraps it in the SQLite store when
// one is configured. The returned func releases the store.
func buildGateway(rc config.RegistersConfig) (modbus.RegisterGateway, func(), error) {
	m := &registers.Map{}
	if rc.File != "" {
		loaded, err := registers.LoadMap(rc.File)
		if err != nil {
			return nil, nil, err
		}
		m = loaded
		s := m.Summary()
		logger.Info("register map loaded",
			slog.String("file", rc.File),
			slog.Int("holding", s.Holding),
			slog.Int("writable", s.Writable),
			slog.Int("input", s.Input))
	} else {
		logger.Warn("no register map configured, every request will fail with illegal data address")
	}

	var gateway modbus.RegisterGateway = m.Gateway()
	if rc.Store == "" {
		return gateway, func() {}, nil
	}

	store, err := registers.OpenStore(rc.Store, gateway, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing register store failed", slog.String("error", err.Error()))
		}
	}, nil
}
