// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/auth"
	"github.com/jeranaias/nutrichat/internal/config"
	"github.com/jeranaias/nutrichat/internal/credential"
	"github.com/jeranaias/nutrichat/internal/logging"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// app carries flags, configuration and the services built from them. Every
// dependency is constructed here and injected; nothing is global.
type app struct {
	cfgPath  string
	logLevel string
	noColor  bool

	in     io.Reader
	lines  *bufio.Reader
	out    io.Writer
	errOut io.Writer

	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	store      credential.Store
	closeStore func() error
	client     *api.Client
	auth       *auth.Service

	// openStore opens the credential store; tests swap in a memory store.
	openStore func(cfg *config.Config) (credential.Store, func() error, error)
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// NewRootCommand builds the nutrichat command tree.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		in:        in,
		lines:     bufio.NewReader(in),
		out:       out,
		errOut:    errOut,
		openStore: openSQLiteStore,
	}
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "nutrichat",
		Short:         "Chat with your nutrition coach from the terminal",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "config file (default ~/.nutrichat/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.chatCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.unlockCommand(),
		a.configCommand(),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	applyColorProfile(a.noColor)

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	logger, level, err := logging.New(logging.Config{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
		JSON:  cfg.Logging.JSON,
	})
	if err != nil {
		return err
	}
	a.logger = logger
	a.level = level
	return nil
}

// configPath returns the file the configuration is read from and saved to.
func (a *app) configPath() (string, error) {
	if a.cfgPath != "" {
		return a.cfgPath, nil
	}
	return config.DefaultPath()
}

// services opens the credential store and builds the API client and auth
// service. Commands that only touch configuration never call it.
func (a *app) services() error {
	if a.auth != nil {
		return nil
	}

	store, closeStore, err := a.openStore(a.cfg)
	if err != nil {
		return err
	}

	var svc *auth.Service
	tokens := api.TokenFunc(func(ctx context.Context) (string, error) {
		return svc.Token(ctx)
	})
	client, err := api.New(a.cfg.API.BaseURL,
		api.WithTokenSource(tokens),
		api.WithLogger(a.logger.Named("api")),
		api.WithRateLimit(a.cfg.API.RequestsPerSecond, 2),
		api.WithMaxRetries(a.cfg.API.MaxRetries),
		api.WithTimeout(a.cfg.APITimeout()),
		api.WithUserAgent("nutrichat-cli/"+Version),
	)
	if err != nil {
		_ = closeStore()
		return err
	}
	svc = auth.New(client, store, auth.WithLogger(a.logger.Named("auth")))

	a.store = store
	a.closeStore = closeStore
	a.client = client
	a.auth = svc
	return nil
}

func (a *app) close() {
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil && a.logger != nil {
			a.logger.Warn("close credential store", zap.Error(err))
		}
		a.closeStore = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// keySource picks the credential key: a passphrase from the environment when
// set, otherwise the random key file.
func keySource(cfg *config.Config) credential.KeySource {
	if cfg.Passphrase != "" {
		return credential.PassphraseKey(cfg.Passphrase, cfg.KeyFilePath()+".salt", credential.DefaultIterations)
	}
	return credential.FileKey(cfg.KeyFilePath())
}

func openSQLiteStore(cfg *config.Config) (credential.Store, func() error, error) {
	store, err := credential.OpenSQLite(cfg.CredentialsPath(), keySource(cfg))
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
