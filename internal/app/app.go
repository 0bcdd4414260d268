// Package app holds the process plumbing shared by the hub, gNB and UE
// binaries: configuration, logging, metrics and inspection endpoints.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/config"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/entity"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/flow"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/inspect"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/logging"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
)

type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Flow     flow.Recorder
}

// Flag names shared by all binaries, with the config keys they override.
var commonFlags = map[string]string{
	"log-level":    "log.level",
	"dev":          "log.development",
	"flow":         "log.flow",
	"hub-host":     "hub.host",
	"hub-port":     "hub.port",
	"metrics-addr": "metrics.addr",
	"inspect-addr": "inspect.addr",
}

// AddCommonFlags declares the shared flags on cmd.
func AddCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("config", "c", "", "YAML configuration file")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.Bool("dev", false, "human readable development logging")
	f.Bool("flow", true, "log the message sequence")
	f.String("hub-host", "127.0.0.1", "hub address")
	f.Int("hub-port", 5000, "hub UDP port")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.String("inspect-addr", "", "serve the gRPC inspection service on this address")
}

// BindFlags maps flag names to config keys on v. Unset flags keep the file
// and environment values.
func BindFlags(v *viper.Viper, cmd *cobra.Command, extra map[string]string) error {
	for name, key := range commonFlags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	for name, key := range extra {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// Setup loads the configuration and builds the logger and the registry.
func Setup(v *viper.Viper, cmd *cobra.Command) (*Runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt := &Runtime{Config: cfg, Logger: logger, Registry: reg, Flow: flow.Nop}
	if cfg.Log.Flow {
		rec := flow.New(logger)
		logger.Info("flow logging enabled", zap.Stringer("run", rec.Run()))
		rt.Flow = rec
	}
	return rt, nil
}

// EntityOptions returns the entity options of node id playing role.
func (rt *Runtime) EntityOptions(role string, id uint32) entity.Options {
	return entity.Options{
		Logger:     rt.Logger,
		Flow:       rt.Flow,
		Metrics:    metrics.NewEntity(rt.Registry, role, id),
		QueueDepth: rt.Config.QueueDepth,
	}
}

// HubAddr resolves the configured hub endpoint.
func (rt *Runtime) HubAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(rt.Config.Hub.Host, strconv.Itoa(rt.Config.Hub.Port)))
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Serve starts the metrics and inspection endpoints that are configured.
// Both stop when ctx is done.
func (rt *Runtime) Serve(ctx context.Context, src inspect.Source) error {
	if addr := rt.Config.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{Registry: rt.Registry}))
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			rt.Logger.Info("serving metrics", zap.String("addr", addr))
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				rt.Logger.Error("metrics server", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownHTTP(server, 5*time.Second, rt.Logger)
		}()
	}

	if addr := rt.Config.Inspect.Addr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		go func() {
			rt.Logger.Info("serving inspection", zap.Stringer("addr", lis.Addr()))
			if err := inspect.Serve(ctx, lis, src, rt.Logger); err != nil {
				rt.Logger.Error("inspection server", zap.Error(err))
			}
		}()
	}
	return nil
}

func shutdownHTTP(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
