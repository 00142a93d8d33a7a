package commands

import (
	"fmt"

	"github.com/FiveIT/eseuri/internal/config"
	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "eseuri",
		Short:         "Read essays and characterizations from the eseuri backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, json or toml)")

	load := func() (*runtime, error) { return loadRuntime(configPath) }
	rootCmd.AddCommand(
		NewServeCommand(load),
		NewReadCommand(load),
		NewSubjectsCommand(load),
		NewWatchCommand(load),
		NewReindexCommand(load),
	)
	return rootCmd
}

type runtime struct {
	cfg    config.Config
	logger *logrus.Logger
}

type loader func() (*runtime, error)

func loadRuntime(path string) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger}, nil
}

// gateway builds a Hasura client that authenticates with tokens.
func (rt *runtime) gateway(tokens gateway.TokenProvider) (*gateway.Client, error) {
	var interceptors []gateway.Interceptor
	if rt.cfg.GatewayBreaker {
		interceptors = append(interceptors, gateway.Breaker("hasura", rt.logger))
	}
	client, err := gateway.New(gateway.Options{
		Endpoint:     rt.cfg.HasuraEndpoint,
		Tokens:       tokens,
		AdminSecret:  rt.cfg.HasuraAdminSecret,
		Timeout:      rt.cfg.GatewayTimeout,
		Logger:       rt.logger,
		Interceptors: interceptors,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return client, nil
}

// cliToken is the token the command line acts with.
func (rt *runtime) cliToken() gateway.TokenProvider {
	return gateway.StaticToken(rt.cfg.AuthToken)
}
