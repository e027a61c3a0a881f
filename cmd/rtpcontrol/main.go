package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/sebas/rtpcontrol/internal/banner"
	"github.com/sebas/rtpcontrol/internal/config"
	"github.com/sebas/rtpcontrol/internal/events"
	"github.com/sebas/rtpcontrol/internal/logger"
	"github.com/sebas/rtpcontrol/internal/mediaclient"
	"github.com/sebas/rtpcontrol/internal/metrics"
)

// engineRetry is the pause between dial attempts to a configured engine
const engineRetry = 2 * time.Second

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rtpcontrol",
	Short: "Control plane for projectrtp media engines",
	Long: `rtpcontrol accepts control connections from projectrtp media engines (and can dial
engines that listen), tracks their capacity and drives RTP channels on them.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")
	config.Flags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(validateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeID = host
		} else {
			cfg.NodeID = uuid.NewString()
		}
	}
	return cfg, nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	engines := "(wait for engines)"
	if len(cfg.Engines) > 0 {
		engines = fmt.Sprint(cfg.Engines)
	}
	metricsAddr := "disabled"
	if cfg.MetricsAddr != "" {
		metricsAddr = cfg.MetricsAddr
	}
	maxConns := "unlimited"
	if cfg.MaxConnections > 0 {
		maxConns = fmt.Sprint(cfg.MaxConnections)
	}
	banner.Print(w, "rtpcontrol", []banner.ConfigLine{
		{Label: "Listen", Value: cfg.ListenAddr()},
		{Label: "Max connections", Value: maxConns},
		{Label: "Engines", Value: engines},
		{Label: "Request timeout", Value: cfg.RequestTimeout.String()},
		{Label: "Reserve", Value: fmt.Sprint(cfg.Reserve)},
		{Label: "Node", Value: cfg.NodeID},
		{Label: "Log level", Value: cfg.EffectiveLogLevel()},
		{Label: "Metrics", Value: metricsAddr},
	})
}

// setupLogging installs the default logger; the returned func closes the log file.
// The console follows the configured level while the log file records debug.
func setupLogging(cfg *config.Config, console io.Writer) func() {
	if cfg.LogFile == "" {
		logger.SetLevel(cfg.EffectiveLogLevel())
		logger.InitLogger(console)
		return func() {}
	}
	file := logger.FileWriter(logger.DefaultFileOptions(cfg.LogFile))
	logger.SetLevel("debug")
	logger.InitLoggerWithLevels(map[io.Writer]slog.Level{
		console: logger.ParseLevel(cfg.EffectiveLogLevel()),
		file:    slog.LevelDebug,
	})
	return func() { _ = file.Close() }
}

// listen opens the engine listener, capped at max_connections when set
func listen(cfg *config.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr(), err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	return ln, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	printBanner(os.Stdout, cfg)

	closeLog := setupLogging(cfg, os.Stdout)
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	control := mediaclient.New(mediaclient.Config{
		RequestTimeout: cfg.RequestTimeout,
		Reserve:        cfg.Reserve,
		NodeID:         cfg.NodeID,
	},
		mediaclient.WithReserve(cfg.Reserve),
		mediaclient.WithPublisher(events.NewLoggingPublisher(slog.Default())),
		mediaclient.WithMetrics(mediaclient.NewMetrics(reg)),
	)

	ln, err := listen(cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return control.Serve(ctx, ln)
	})
	for _, addr := range cfg.Engines {
		g.Go(func() error {
			control.KeepConnected(ctx, addr, engineRetry)
			return nil
		})
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.NewServer(cfg.MetricsAddr, "/metrics", reg).Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("[Control] Shutting down", "channels", control.ChannelCount(), "instances", control.Registry().Len())
		return control.Close()
	})

	return g.Wait()
}
