package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matheus3301/remotememo/internal/api"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/store"
)

var messagesCmd = &cobra.Command{
	Use:     "messages",
	Aliases: []string{"ls"},
	Short:   "List stored memos",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, callTimeout, func(ctx context.Context, c *api.Client) error {
			msgs, err := c.Messages(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(msgs)
			}
			if len(msgs) == 0 {
				fmt.Println("No messages.")
				return nil
			}
			for _, m := range msgs {
				printMessage(&m)
			}
			return nil
		})
	},
}

var draft api.Draft
var audioPath string

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Queue a memo for the peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := draft
		if audioPath != "" {
			raw, err := os.ReadFile(audioPath)
			if err != nil {
				return errors.Wrap(err, "read audio")
			}
			d.AudioPayload = base64.StdEncoding.EncodeToString(raw)
		}
		return withClient(cmd, callTimeout, func(ctx context.Context, c *api.Client) error {
			m, err := c.Send(ctx, d)
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(m)
			}
			printMessage(m)
			return nil
		})
	},
}

var playedCmd = &cobra.Command{
	Use:   "played <message-id>",
	Short: "Mark a memo as played",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, callTimeout, func(ctx context.Context, c *api.Client) error {
			m, err := c.MarkPlayed(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(m)
			}
			printMessage(m)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [namespace]",
	Short: "Stream daemon events until interrupted",
	Long: `Stream events published by the daemon. An optional namespace such as
"chain" or "message.status" restricts the stream to event kinds with that
prefix.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace := ""
		if len(args) == 1 {
			namespace = args[0]
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		return withClient(cmd, 0, func(ctx context.Context, c *api.Client) error {
			err := c.Watch(ctx, namespace, func(evt api.Event) error {
				if jsonOut {
					return outputJSON(evt)
				}
				fmt.Printf("%s  %-22s %v\n", evt.Timestamp.Local().Format("15:04:05.000"), evt.Kind, evt.Payload)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	},
}

func init() {
	sendCmd.Flags().StringVar(&draft.ReceiverID, "to", "", "receiver device id (default: configured peer)")
	sendCmd.Flags().StringVarP(&draft.ShortName, "name", "n", "", "short name of the memo")
	sendCmd.Flags().StringVarP(&draft.Text, "text", "t", "", "memo text")
	sendCmd.Flags().StringVar(&draft.Date, "date", "", "reminder date (YYYY-MM-DD)")
	sendCmd.Flags().StringVar(&draft.Time, "time", "", "reminder time (HH:MM)")
	sendCmd.Flags().StringVar(&audioPath, "audio", "", "path to an audio file to attach")
	_ = sendCmd.MarkFlagRequired("name")
}

func printMessage(m *store.Message) {
	played := ""
	if m.Played {
		played = " played"
	}
	fmt.Printf("%s  %s -> %s  [%s%s]  %s", m.ID, m.SenderID, m.ReceiverID, m.Status, played, m.ShortName)
	if m.Date != "" || m.Time != "" {
		fmt.Printf("  @ %s %s", m.Date, m.Time)
	}
	fmt.Println()
	if m.Text != "" {
		fmt.Printf("    %s\n", m.Text)
	}
}
