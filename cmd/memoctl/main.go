// Command memoctl inspects and drives a running memod over its control socket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/remotememo/internal/api"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/profile"
)

const callTimeout = 10 * time.Second

var (
	profileFlag string
	jsonOut     bool
)

var rootCmd = &cobra.Command{
	Use:   "memoctl",
	Short: "Control a Remote Memo daemon",
	Long: `memoctl talks to the memod daemon of a profile over its Unix socket.

It reports sync status, forces a reconciliation pass, inspects the block
chain and the sync journal, and sends or plays memos. The pair and device
commands work offline against the profile directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return profile.ValidateName(profileName())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	rootCmd.AddCommand(statusCmd, syncCmd, chainCmd, journalCmd)
	rootCmd.AddCommand(messagesCmd, sendCmd, playedCmd, watchCmd)
	rootCmd.AddCommand(pairCmd, deviceCmd)
}

func profileName() string {
	return profile.Resolve(profileFlag)
}

// withClient dials the profile's daemon and runs fn with a bounded context.
func withClient(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, c *api.Client) error) error {
	name := profileName()
	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		return errors.Wrapf(err, "cannot connect to daemon for profile %q", name)
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
