package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkboard/board-app/internal/discovery"
	"github.com/inkboard/board-app/internal/messaging"
	"github.com/inkboard/board-app/internal/protocol"
)

func feedCmd() *cobra.Command {
	var natsURL string

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Tail the accepted-event feed from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := messaging.DefaultNATSConfig()
			config.URL = natsURL
			config.Name = "boardctl-feed"
			nc, err := messaging.NewNATSClient(config)
			if err != nil {
				return err
			}
			defer nc.Close()

			err = nc.SubscribeBoard(func(msgType string, data []byte) {
				typ, msg, err := protocol.ParseServerMessage(data)
				if err != nil {
					warn("unreadable %s message: %v", msgType, err)
					return
				}
				printMessage(typ, msg)
			})
			if err != nil {
				return err
			}

			info("tailing %s on %s (ctrl-c to stop)", messaging.SubjectBoardAll, natsURL)
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", envOr("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	return cmd
}

func discoverCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find boards advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait+time.Second)
			defer cancel()

			boards, err := discovery.Browse(ctx, wait)
			if err != nil {
				return err
			}
			if len(boards) == 0 {
				warn("no boards found")
				return nil
			}

			fmt.Printf("%-24s %-24s %s\n", "INSTANCE", "ADDRESS", "URL")
			for _, b := range boards {
				fmt.Printf("%-24s %-24s %s\n", b.Instance, b.Addr, b.URL())
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to listen for answers")
	return cmd
}
