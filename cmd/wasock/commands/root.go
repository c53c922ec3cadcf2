package commands

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/wasock"
	"github.com/opd-ai/wasock/store"
)

var (
	configPath string
	endpoint   string
	verbose    bool

	opts *wasock.Options
)

// Execute runs the wasock CLI.
func Execute() error {
	root := &cobra.Command{
		Use:   "wasock",
		Short: "Encrypted multi-device transport session client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}

			if configPath != "" {
				loaded, err := wasock.LoadOptionsFile(configPath)
				if err != nil {
					return err
				}
				opts = loaded
			} else {
				opts = wasock.NewOptions()
			}

			if endpoint != "" {
				opts.Endpoint = endpoint
			}
			if opts.Store == nil {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home := filepath.Join(dir, ".wasock")
				if err := os.MkdirAll(home, 0o700); err != nil {
					return err
				}
				opts.Store = store.NewFileStore(filepath.Join(home, "credentials.json"))
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().StringVar(&endpoint, "endpoint", "", "WebSocket endpoint URL")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(pairCmd(), runCmd())
	return root.Execute()
}
