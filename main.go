package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"vault-test-support/config"
	"vault-test-support/logging"
	"vault-test-support/prepare"
	"vault-test-support/shutdown"
	"vault-test-support/testclient"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Smoke check for a Vault used by integration tests. Extra arguments are
// additional candidate addresses; the fastest healthy one is reported.
func main() {
	cfg := config.MustLoadConfig()

	logger := logging.New(cfg.Debug)
	defer logger.Sync() //nolint:errcheck
	shutdown.SetLogger(logger)
	testclient.SetLogger(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, cfg, logger, flag.Args())

	// Hook failures are already logged by the registry.
	_ = shutdown.Run()

	if err != nil {
		logger.Error("smoke check failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, extraAddrs []string) error {
	tmpl, err := testclient.New(&cfg)
	if err != nil {
		return errors.Wrap(err, "create template")
	}
	logger.Info("request factory", zap.String("kind", tmpl.RequestFactory().Name()))

	selector := &prepare.ServerSelector{
		Template:     tmpl,
		HealthPath:   prepare.HealthPath,
		ProbeTimeout: cfg.ConnectionTimeout,
		AcceptStatus: cfg.AcceptHealthStatuses,
		Log:          logger,
	}
	addrs := append([]string{cfg.Address()}, extraAddrs...)
	logger.Info("probing Vault servers", zap.Strings("addrs", addrs))

	primary, err := selector.Select(ctx, addrs)
	if err != nil {
		return err
	}
	logger.Info("using Vault server", zap.String("addr", primary))

	if primary != cfg.Address() {
		cfg, err = withAddr(cfg, primary)
		if err != nil {
			return err
		}
	}

	vc, err := testclient.NewVaultClient(&cfg)
	if err != nil {
		return errors.Wrap(err, "create vault client")
	}
	v := &prepare.Vault{Client: vc, Log: logger}

	health, err := v.Health(ctx)
	if err != nil {
		return errors.Wrap(err, "health")
	}
	report := map[string]any{
		"address":     primary,
		"initialized": health.Initialized,
		"sealed":      health.Sealed,
		"standby":     health.Standby,
		"version":     health.Version,
		"cluster":     health.ClusterName,
	}

	if cfg.Token != "" {
		backends, err := v.SecretBackends(ctx)
		if err != nil {
			return err
		}
		report["secret_backends"] = backends
	}

	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode health report")
	}
	fmt.Println(string(b))
	return nil
}

func withAddr(cfg config.Config, addr string) (config.Config, error) {
	c := cfg
	c.Addr = addr
	if err := c.ApplyAddr(); err != nil {
		return cfg, err
	}
	return c, nil
}
