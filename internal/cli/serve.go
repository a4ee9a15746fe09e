package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/rebootguard/internal/classify"
	"github.com/HerbHall/rebootguard/internal/config"
	"github.com/HerbHall/rebootguard/internal/executor"
	"github.com/HerbHall/rebootguard/internal/host"
	"github.com/HerbHall/rebootguard/internal/interceptor"
	"github.com/HerbHall/rebootguard/internal/metrics"
	"github.com/HerbHall/rebootguard/internal/server"
)

const defaultServeAddr = "127.0.0.1:9464"

var (
	serveAddr     string
	serveAttempts int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: metrics.addr from config, then "+defaultServeAddr+")")
	serveCmd.Flags().IntVar(&serveAttempts, "attempts", 32, "Executor attempts kept for /api/v1/attempts")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Guard a simulated host and serve status and metrics",
	Long: "Installs guards on a simulated system_server, wires suppressed requests to\n" +
		"the real executor and serves guard status, recent attempts and Prometheus\n" +
		"metrics. Requests can be injected with POST /api/v1/requests.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession()
		if err != nil {
			return err
		}
		defer rt.cleanup()
		logger := rt.logger

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		attempts := server.NewAttemptLog(serveAttempts)
		ex, err := executor.New(rt.cfg.Executor, logger,
			executor.WithMetrics(m),
			executor.WithObserver(attempts.Record),
		)
		if err != nil {
			return err
		}

		android := host.NewAndroid(rt.cfg.Host.Version)
		icpt := interceptor.New(android, classify.Default, ex, logger, m)
		res := icpt.InstallGuards(rt.cfg.Points())
		logger.Info("guard installation finished",
			zap.Int("installed", len(res.Installed)),
			zap.Int("failures", len(res.Failures)),
		)

		// A reloaded attachment table can only add guards for chains not
		// installed yet; installed chains are never bound twice.
		if _, err := config.Watch(configPath, logger, func(next *config.Config) {
			res := icpt.InstallGuards(next.Points())
			logger.Info("attachment table reloaded",
				zap.Int("installed", len(res.Installed)),
				zap.Strings("skipped", res.Skipped),
			)
		}); err != nil {
			return err
		}

		addr := serveAddr
		if addr == "" {
			addr = rt.cfg.Metrics.Addr
		}
		if addr == "" {
			addr = defaultServeAddr
		}
		srv := server.New(addr, icpt, attempts, reg, android, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	},
}
