// Command atrt-gateway is the reference HTTP front end for the atrt client:
// it dials a serial modem, runs the SMS init sequence, and exposes POST
// /sms, GET /signal, and Prometheus /metrics + /ready endpoints. It
// generalizes the teacher's root main.go/server.go/config.go onto the new
// client.Client/sms package pair.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/atrt/client"
	"i4.energy/across/atrt/internal/logging"
	"i4.energy/across/atrt/internal/metrics"
	"i4.energy/across/atrt/sms"
	"i4.energy/across/atrt/transport"
)

func main() {
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("metrics-address", "0.0.0.0:9090", "Bind address for the /metrics and /ready endpoints")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("log-format", "json", "Log format (json, text)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.Duration("command-timeout", 5*time.Second, "Default AT command timeout")
	flag.Duration("cooldown", 20*time.Millisecond, "Minimum delay enforced between commands")
	flag.Parse()

	cfg, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := parseLevel(cfg.LogLevel)
	logger := logging.New(cfg.LogFormat, level, os.Stderr)
	logging.Set(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	atrtClient, err := client.New(ctx, client.Config{
		Dialer: transport.SerialDialer{
			PortName: cfg.SerialPort,
			BaudRate: cfg.BaudRate,
		},
		DefaultTimeout: cfg.DefaultTimeout,
		Cooldown:       &cfg.Cooldown,
	})
	if err != nil {
		logger.Error("failed to connect to modem", "error", err)
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := sms.Init(initCtx, atrtClient, cfg.SimPIN); err != nil {
		initCancel()
		logger.Error("modem init failed", "error", err)
		os.Exit(1)
	}
	initCancel()
	logger.Info("modem ready", "serial_port", cfg.SerialPort, "baud_rate", cfg.BaudRate)

	metrics.SetReadinessFunc(func() bool { return atrtClient.LastError() == nil })
	metricsServer := metrics.StartHTTP(cfg.MetricsAddr)

	go logURCs(ctx, logger, atrtClient)

	httpServer := &http.Server{
		Addr: cfg.BindAddress,
		Handler: &Server{
			Logger: logger.With("component", "server"),
			Client: atrtClient,
		},
	}
	go func() {
		logger.Info("starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := atrtClient.Close(); err != nil {
		logger.Error("failed to close modem connection", "error", err)
	}
}

func logURCs(ctx context.Context, logger *slog.Logger, c *client.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.URCs():
			if !ok {
				return
			}
			logger.Info("urc", "body", string(frame.Body))
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
