package main

import (
	"os"

	"github.com/opd-ai/wasock/cmd/wasock/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
