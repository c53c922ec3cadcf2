package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opd-ai/wasock"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect with stored credentials and log lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := wasock.NewClient(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			terminal := make(chan wasock.DisconnectReason, 1)
			cancel := client.OnConnectionState(func(state wasock.ConnectionState, reason wasock.DisconnectReason) {
				if reason == wasock.ReasonNone {
					fmt.Printf("connection: %s\n", state)
					return
				}
				fmt.Printf("connection: %s (%s)\n", state, reason)
				if state == wasock.StateClosed && reason.Policy() != wasock.PolicyReconnect {
					select {
					case terminal <- reason:
					default:
					}
				}
			})
			defer cancel()

			client.OnMessage(func(payload []byte) {
				fmt.Printf("message: %d bytes\n", len(payload))
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := client.Connect(ctx); err != nil {
				return err
			}

			select {
			case reason := <-terminal:
				return fmt.Errorf("connection closed: %s", reason)
			case <-ctx.Done():
				return nil
			}
		},
	}
	return cmd
}
