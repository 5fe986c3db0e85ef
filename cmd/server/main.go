package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/pushgate/internal/auth"
	"github.com/Tyrowin/pushgate/internal/config"
	"github.com/Tyrowin/pushgate/internal/credentials"
	"github.com/Tyrowin/pushgate/internal/logging"
	"github.com/Tyrowin/pushgate/internal/push"
	"github.com/Tyrowin/pushgate/internal/server"
	"github.com/Tyrowin/pushgate/internal/session"
)

func main() {
	configPath := flag.String("config", os.Getenv("PUSHGATE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pushgate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SecretKey == config.Default().SecretKey {
		log.Warn(ctx, "using the default secret key; set SECRET_KEY outside development")
	}

	store, closeStore, err := credentials.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error(ctx, "closing credential store failed", "error", err)
		}
	}()

	registry := session.NewRegistry(log.With("component", "registry"))
	authenticator := auth.NewAuthenticator(store, auth.NewArgon2Hasher(), registry, log.With("component", "auth"))
	tokens := auth.NewTokenIssuer([]byte(cfg.SecretKey), cfg.TokenTTL)

	pushLog := log.With("component", "push")
	manager := push.NewManager(
		registry,
		server.NewRelay(registry, pushLog),
		push.NewOriginPolicy(cfg.AllowedOrigins, pushLog),
		push.Options{
			MaxMessageSize:    cfg.MaxMessageSize,
			SendBuffer:        cfg.SendBuffer,
			RateLimitBurst:    cfg.RateLimit.Burst,
			RateLimitInterval: cfg.RateLimit.RefillInterval,
		},
		pushLog,
	)

	handler := server.New(server.Deps{
		Auth:     authenticator,
		Sessions: registry,
		Tokens:   tokens,
		Channels: manager,
	}, log.With("component", "http"))
	httpServer := server.CreateServer(cfg.Addr, handler)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigs)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	select {
	case sig := <-sigs:
		log.Info(ctx, "received shutdown signal", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	// stop new upgrades first so no channel opens after the manager drains
	shutdownErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
	if err := manager.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn(ctx, "push channels did not drain in time", "error", err)
	}
	log.Info(ctx, "server stopped", "sessions", registry.Stats().Sessions)
	return shutdownErr
}
