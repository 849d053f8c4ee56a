// File: cmd/hioload-tcp/main.go
// Author: momentics <momentics@gmail.com>
//
// CLI entry point: loads configuration, wires signals to a cooperative
// shutdown, and runs the server with the demo echo handler.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/server"
)

var (
	configFile  string
	logLevel    string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "hioload-tcp [port] [max_connections] [thread_count]",
	Short: "Newline-framed TCP server",
	Long: `hioload-tcp accepts many concurrent TCP connections, frames
newline-delimited messages and dispatches them to a handler over a fixed
worker pool, with pooled buffers keeping memory flat under load.`,
	Args: cobra.MaximumNArgs(3),
	RunE: runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (key=value lines)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for Prometheus exposition (e.g. :9100)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := control.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.ApplyArgs(args); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	setupLogger(cfg.LogLevel)

	srv := server.New(server.Config{
		Port:           cfg.Port,
		MaxConnections: cfg.MaxConnections,
		ThreadCount:    cfg.ThreadCount,
	})
	srv.SetMessageHandler(func(msg []byte, c *server.Conn) {
		if err := c.SendMessage("Server received: " + string(msg)); err != nil {
			logrus.WithField("peer", c.Peer()).WithError(err).Warn("reply dropped")
		}
	})

	if err := srv.Start(); err != nil {
		logrus.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	// Signal handling stays out of the reactor: the handler goroutine only
	// calls Stop, which flips the running flag and wakes the poller.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		sig := <-sigCh
		logrus.WithField("signal", sig).Info("shutting down")
		srv.Stop()
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logrus.WithError(err).Warn("metrics listener failed")
			}
		}()
	}

	srv.Run()

	snap := srv.Snapshot()
	logrus.WithFields(logrus.Fields{
		"peak_connections": snap.PeakConnections,
		"peak_bytes":       snap.PeakBytes,
	}).Info("server shutdown complete")
	return nil
}

func setupLogger(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
