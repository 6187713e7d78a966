package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trustclient/client"
	"trustclient/cmd/internal/passphrase"
	"trustclient/config"
	"trustclient/crypto"
	"trustclient/observability/logging"
)

const defaultConfigPath = "trustclient.toml"

type app struct {
	configPath string
	logLevel   string
	chainID    uint64

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "trustclient",
		Short:         "Minimal-trust JSON-RPC client for registry-based node networks",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "path to the TOML or YAML configuration")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().Uint64Var(&a.chainID, "chain", 0, "chain id (defaults to the configured ChainID)")

	root.AddCommand(
		newCallCmd(a),
		newNodesCmd(a),
		newServeCmd(a),
		newCacheCmd(a),
		newKeystoreCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.chainID == 0 {
		a.chainID = cfg.ChainID
	}
	opts := logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	// stdout is reserved for command results.
	if opts.File == "" {
		opts.Output = os.Stderr
	}
	logger, err := logging.Setup("trustclient", strings.TrimSpace(os.Getenv("TRUSTCLIENT_ENV")), opts)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// client builds a client for the configured chains. The keystore passphrase
// is read from the configured environment variable or prompted for.
func (a *app) client(ctx context.Context) (*client.Client, error) {
	opts := []client.Option{client.WithLogger(a.logger)}
	if a.cfg.Signer.Keystore != "" {
		pass, err := passphrase.NewSource(a.cfg.Signer.PassphraseEnv, "").Get()
		if err != nil {
			return nil, err
		}
		signer, err := crypto.OpenKeystore(a.cfg.Signer.Keystore, pass)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithSigner(signer))
	}
	return client.New(ctx, a.cfg, opts...)
}
