package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/remotememo/internal/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, callTimeout, func(ctx context.Context, c *api.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(st)
			}
			fmt.Printf("Profile:   %s\n", st.Profile)
			fmt.Printf("Device:    %s\n", st.DeviceID)
			fmt.Printf("Peer:      %s\n", orDash(st.PeerID))
			fmt.Printf("Relay:     %s\n", st.RelayURL)
			fmt.Printf("Sync:      %s\n", st.Indicator)
			fmt.Printf("Statuses:  %s\n", syncedLabel(st.StatusSynced))
			fmt.Printf("Failures:  %d\n", st.LedgerFailures)
			fmt.Printf("Messages:  %d\n", st.Messages)
			if st.TipBlock < 0 {
				fmt.Printf("Chain:     empty\n")
			} else {
				fmt.Printf("Chain:     %d blocks, tip #%d %s\n", st.Blocks, st.TipBlock, short(st.TipHash))
			}
			fmt.Printf("Uptime:    %s\n", (time.Duration(st.UptimeMS) * time.Millisecond).Round(time.Second))

			names := make([]string, 0, len(st.Checkpoints))
			for name := range st.Checkpoints {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-12s %s\n", name, st.Checkpoints[name])
			}
			return nil
		})
	},
}

var syncReason string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force a reconciliation pass with the peer",
	Long: `Run a forced AppSync pass immediately: redeliver undelivered messages
and exchange statuses with the peer. Peer statuses overwrite local ones
even when they are equal.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, callTimeout, func(ctx context.Context, c *api.Client) error {
			report, err := c.ForceSync(ctx, syncReason)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(report)
			}
			if !report.Success {
				fmt.Printf("Sync failed (%s), %d redelivered\n", report.Reason, report.Redelivered)
				return nil
			}
			fmt.Printf("Synced (%s): %d updated, %d redelivered\n", report.Reason, len(report.Updated), report.Redelivered)
			for _, id := range report.Updated {
				fmt.Printf("  %s\n", id)
			}
			return nil
		})
	},
}

var chainVerify bool

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "List ledger blocks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, callTimeout, func(ctx context.Context, c *api.Client) error {
			if chainVerify {
				report, err := c.VerifyChain(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(report)
				}
				if report.Valid {
					fmt.Printf("Chain valid (%d blocks)\n", report.Blocks)
				} else {
					fmt.Printf("Chain INVALID (%d blocks): %s\n", report.Blocks, report.Error)
				}
				return nil
			}

			blocks, err := c.Blocks(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(blocks)
			}
			if len(blocks) == 0 {
				fmt.Println("No blocks.")
				return nil
			}
			for _, b := range blocks {
				fmt.Printf("#%-5d %s <- %s  %d entries\n", b.BlockNumber, short(b.Hash), short(b.PreviousHash), len(b.Ledger))
			}
			return nil
		})
	},
}

var (
	journalLimit int
	journalClear bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the sync journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, callTimeout, func(ctx context.Context, c *api.Client) error {
			if journalClear {
				n, err := c.ClearSyncLogs(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Cleared %d entries\n", n)
				return nil
			}

			entries, err := c.SyncLogs(ctx, journalLimit)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("Journal is empty.")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-10s peer=%s +%d ~%d -%d",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.From, orDash(e.Peer), e.Added, e.Updated, e.Deleted)
				if e.Reason != "" {
					line += "  (" + e.Reason + ")"
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncReason, "reason", "r", "", "reason recorded in the journal (default \"manual\")")
	chainCmd.Flags().BoolVar(&chainVerify, "verify", false, "check hashes and links instead of listing")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "maximum entries to show")
	journalCmd.Flags().BoolVar(&journalClear, "clear", false, "delete every journal entry")
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return orDash(hash)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func syncedLabel(ok bool) string {
	if ok {
		return "in sync"
	}
	return "pending"
}
