// Command memorelay runs the relay that paired devices exchange messages,
// status reports and ledger blocks through.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/relay"
)

var (
	configPath string
	listenAddr string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "memorelay",
	Short: "Relay for Remote Memo devices",
	Long: `memorelay routes messages between paired devices, answers status and
ledger sync exchanges, and serves cached messages to devices repairing
their history after a chain override.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config.toml with a [relay] section")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func loadRelayConfig() (config.Relay, error) {
	if configPath == "" {
		return config.DefaultRelay(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Relay{}, errors.Wrapf(err, "load %s", configPath)
	}
	return cfg.Relay, nil
}

func run(cmd *cobra.Command, _ []string) error {
	rc, err := loadRelayConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		rc.Listen = listenAddr
	}
	if err := rc.Validate(); err != nil {
		return err
	}

	logger := logging.NewRelay(logging.ParseLevel(logLevel))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return relay.New(relay.OptionsFromConfig(rc), logger).Run(ctx, rc.Listen)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
