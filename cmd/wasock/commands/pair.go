package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opd-ai/wasock"
	"github.com/opd-ai/wasock/pairing"
)

func pairCmd() *cobra.Command {
	var useCode bool

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link this device to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if useCode {
				opts.PairingMode = pairing.ModeCode
			}

			client, err := wasock.NewClient(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			done := make(chan error, 1)
			cancel := client.OnPairing(func(u pairing.Update) {
				switch u.State {
				case pairing.StateCodeOrScanPending:
					if opts.PairingMode == pairing.ModeCode {
						fmt.Printf("Enter this code on your primary device: %s\n", u.Reference.Code)
					} else {
						fmt.Printf("Scan this payload: %s\n", u.Reference.Payload)
					}
					fmt.Printf("Reference expires at %s\n", u.Reference.ExpiresAt.Format("15:04:05"))
				case pairing.StateAuthorized:
					fmt.Println("Device linked")
					done <- nil
				case pairing.StateFailed:
					done <- fmt.Errorf("pairing failed: %v", u.Err)
				}
			})
			defer cancel()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := client.Connect(ctx); err != nil {
				return err
			}

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	cmd.Flags().BoolVar(&useCode, "code", false, "use a linking code instead of a QR payload")
	return cmd
}
