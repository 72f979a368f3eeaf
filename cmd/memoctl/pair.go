package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/pairing"
	"github.com/matheus3301/remotememo/internal/profile"
)

var (
	pairPNG    string
	pairAccept string
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Show this device's pairing code, or accept the peer's",
	Long: `Without flags, print a QR code with this device's id and relay for the
peer to scan. With --accept, store the peer id and relay from the peer's
pairing URI in this profile's config. Restart memod to pick it up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := profileName()
		cfg, err := profile.LoadConfig(name)
		if err != nil {
			return err
		}

		if pairAccept != "" {
			return acceptInvite(name, cfg, pairAccept)
		}

		if cfg.DeviceID == "" {
			return errors.WithHint(errors.New("profile has no device id"), "start memod once or run `memoctl device reset`")
		}
		inv := pairing.Invite{DeviceID: cfg.DeviceID, RelayURL: cfg.RelayURL}
		uri := inv.URI()

		if pairPNG != "" {
			png, err := pairing.PNG(uri, 256)
			if err != nil {
				return err
			}
			if err := os.WriteFile(pairPNG, png, 0600); err != nil {
				return errors.Wrap(err, "write png")
			}
		}
		if jsonOut {
			return outputJSON(map[string]string{"deviceId": inv.DeviceID, "relayUrl": inv.RelayURL, "uri": uri})
		}

		qr, err := pairing.RenderQR(uri)
		if err != nil {
			return err
		}
		fmt.Print(qr)
		fmt.Printf("\n  %s\n", uri)
		return nil
	},
}

func acceptInvite(name string, cfg *config.Config, raw string) error {
	inv, err := pairing.Parse(raw)
	if err != nil {
		return err
	}
	if inv.DeviceID == cfg.DeviceID {
		return errors.New("cannot pair a device with itself")
	}
	cfg.PeerID = inv.DeviceID
	if inv.RelayURL != "" {
		cfg.RelayURL = inv.RelayURL
	}
	if err := profile.EnsureDir(name); err != nil {
		return err
	}
	if err := config.Save(profile.ConfigPath(name), cfg); err != nil {
		return err
	}
	fmt.Printf("Paired with %s via %s\n", cfg.PeerID, orDash(cfg.RelayURL))
	return nil
}

func init() {
	pairCmd.Flags().StringVar(&pairPNG, "png", "", "also write the QR code to this PNG file")
	pairCmd.Flags().StringVar(&pairAccept, "accept", "", "pairing URI scanned from the peer")
}
