// Package main implements the semtrust binary. One process runs the
// publisher, the subscriber, or both over a shared log for demos.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semtrust/config"
	"github.com/c360/semtrust/service"
	"github.com/c360/semtrust/transport"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semtrust"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	if cliCfg.InitConfig != "" {
		if err := config.Default().SaveToFile(cliCfg.InitConfig); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		logger.Info("Default configuration written", "path", cliCfg.InitConfig)
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runWithShutdownTimeout(ctx, cliCfg.ShutdownTimeout, logger, func(ctx context.Context) error {
		switch cliCfg.Role {
		case roleSubscriber:
			return runRole(ctx, service.SubscriberName, cfg, logger)
		case roleDemo:
			return runDemo(ctx, cfg, cliCfg.DashboardAddr, logger)
		default:
			return runRole(ctx, service.PublisherName, cfg, logger)
		}
	})
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat, cliCfg.Role)
	slog.SetDefault(logger)

	slog.Info("Starting SemTrust",
		"version", Version,
		"build_time", BuildTime,
		"role", cliCfg.Role,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig layers the file, if any, over defaults and env overrides
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// runWithShutdownTimeout runs fn and, once ctx is cancelled, gives it
// timeout to return
func runWithShutdownTimeout(
	ctx context.Context, timeout time.Duration, logger *slog.Logger, fn func(context.Context) error,
) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	logger.Info("Received shutdown signal", "timeout", timeout)
	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info("SemTrust shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("graceful shutdown exceeded %s", timeout)
	}
}

func newDependencies(
	ctx context.Context, name string, cfg *config.Config, logger *slog.Logger, opts ...service.DependencyOption,
) (*service.Dependencies, error) {
	deps, err := service.NewDependencies(name, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := deps.Connect(ctx); err != nil {
		_ = deps.Close(context.Background())
		return nil, err
	}
	return deps, nil
}

func newService(name string, deps *service.Dependencies) interface {
	service.Service
	Ready() <-chan struct{}
	Addr() string
} {
	if name == service.SubscriberName {
		return service.NewSubscriber(deps)
	}
	return service.NewPublisher(deps)
}

// runRole runs a single role until ctx is cancelled
func runRole(ctx context.Context, name string, cfg *config.Config, logger *slog.Logger) error {
	deps, err := newDependencies(ctx, name, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	return newService(name, deps).Run(ctx)
}

// runDemo runs both roles in one process. With the memory transport they
// share one log; the subscriber finds the publisher on its bound address.
func runDemo(ctx context.Context, cfg *config.Config, dashboardAddr string, logger *slog.Logger) error {
	var opts []service.DependencyOption
	if cfg.Transport.Kind == config.TransportMemory {
		opts = append(opts, service.WithLog(transport.NewMemoryLog(), false))
	}

	pubDeps, err := newDependencies(ctx, service.PublisherName, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer pubDeps.Close(context.Background())
	pub := service.NewPublisher(pubDeps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pub.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-pub.Ready():
		case <-gctx.Done():
			return nil
		}

		subCfg := cfg.Clone()
		subCfg.HTTP.Addr = dashboardAddr
		subCfg.Publisher.AnnouncementURL = "http://" + loopback(pub.Addr())
		if cfg.HTTP.TLS.Enabled {
			subCfg.Publisher.AnnouncementURL = "https://" + loopback(pub.Addr())
			if !subCfg.Publisher.TLS.Configured() {
				subCfg.Publisher.TLS.CAFiles = []string{cfg.HTTP.TLS.CertFile}
			}
		}
		subDeps, err := newDependencies(gctx, service.SubscriberName, subCfg, logger, opts...)
		if err != nil {
			return err
		}
		defer subDeps.Close(context.Background())

		sub := service.NewSubscriber(subDeps)
		go func() {
			select {
			case <-sub.Ready():
				logger.Info("Demo running", "publisher", pub.Addr(), "dashboard", sub.Addr())
			case <-gctx.Done():
			}
		}()
		return sub.Run(gctx)
	})
	return g.Wait()
}

// loopback rewrites an unspecified listen host to 127.0.0.1
func loopback(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
