package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/lock"
	"github.com/matheus3301/remotememo/internal/profile"
	"github.com/matheus3301/remotememo/internal/store"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect or reset this profile's device identity",
}

var deviceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configured identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := profile.LoadConfig(profileName())
		if err != nil {
			return err
		}
		id := cfg.Identity()
		if jsonOut {
			return outputJSON(map[string]string{"deviceId": id.DeviceID, "peerId": id.PeerID, "relayUrl": cfg.RelayURL})
		}
		fmt.Printf("Device: %s\n", orDash(id.DeviceID))
		fmt.Printf("Peer:   %s\n", orDash(id.PeerID))
		fmt.Printf("Relay:  %s\n", orDash(cfg.RelayURL))
		return nil
	},
}

var clearHistory bool

var deviceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Assign a new random device id",
	Long: `Generate a new six-digit device id and store it in config.toml and the
settings table. The daemon must be stopped. With --clear-history the
stored memos and the sync journal are removed as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := profileName()
		if err := profile.EnsureDir(name); err != nil {
			return err
		}
		cfg, err := profile.LoadConfig(name)
		if err != nil {
			return err
		}
		id, err := config.GenerateDeviceID()
		if err != nil {
			return err
		}

		lk, err := lock.Acquire(profile.Dir(name), id)
		if err != nil {
			return errors.WithHint(err, "stop memod before resetting the device id")
		}
		defer func() { _ = lk.Release() }()

		old := cfg.DeviceID
		cfg.DeviceID = id
		if err := config.Save(profile.ConfigPath(name), cfg); err != nil {
			return err
		}
		if err := resetStore(cmd.Context(), name, id); err != nil {
			return err
		}
		fmt.Printf("Device id %s -> %s\n", orDash(old), id)
		return nil
	},
}

func resetStore(ctx context.Context, name, id string) error {
	db, err := store.Open(profile.DBPath(name))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		return err
	}
	if err := db.SetSetting(ctx, store.KeyDeviceID, id); err != nil {
		return err
	}
	if !clearHistory {
		return nil
	}
	msgs, err := db.ClearMessages(ctx)
	if err != nil {
		return err
	}
	logs, err := db.ClearSyncLogs(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d messages and %d journal entries\n", msgs, logs)
	return nil
}

func init() {
	deviceResetCmd.Flags().BoolVar(&clearHistory, "clear-history", false, "also delete stored memos and the sync journal")
	deviceCmd.AddCommand(deviceShowCmd, deviceResetCmd)
}
