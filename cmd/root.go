// Package cmd defines the vision2struct command-line client.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/client"
	"github.com/JakeFAU/vision2struct/internal/config"
	"github.com/JakeFAU/vision2struct/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	server     string
	logLevel   string
}

// session is built once per invocation in PersistentPreRunE.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	client *client.Client
}

type sessionKeyType struct{}

var sessionKey sessionKeyType

// newSession is a variable so tests can point the CLI at a test server.
var newSession = func(opts rootOptions) (*session, error) {
	v, err := config.NewViper(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.server != "" {
		v.Set("client.base_url", opts.server)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewCLI(opts.logLevel)
	if err != nil {
		return nil, err
	}
	c, err := client.New(cfg.Client.BaseURL,
		client.WithAPIKey(cfg.Client.APIKey),
		client.WithLogger(logger.Named("client")),
	)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, client: c}, nil
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "vision2struct",
		Short: "Submit image scrape jobs and follow their progress",
		Long: `vision2struct submits a keyword to the scrape service, then follows the
job's progress stream and renders it as a progress bar until the report
has been written.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(opts)
			if err != nil {
				return fmt.Errorf("initialize client: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, s))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if s, ok := cmd.Context().Value(sessionKey).(*session); ok && s != nil {
				_ = s.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "scrape service base URL (default http://localhost:5000)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "client log level (default warn)")

	cmd.AddCommand(newScrapeCmd(), newStatusCmd(), newCancelCmd())
	return cmd
}

func sessionFrom(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil {
		return nil, fmt.Errorf("client session not initialized")
	}
	return s, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
