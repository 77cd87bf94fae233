// Command jetcashd runs a jetcash block downloader node.
package main

import (
	"fmt"
	"os"

	"github.com/jetcash/jetcash/cmd/jetcashd/commands"
	"github.com/jetcash/jetcash/config"
	"github.com/jetcash/jetcash/internal/log"
)

func main() {
	cfg := config.DefaultConfig()
	logger := log.NewStdoutLogger()

	root := commands.RootCommand(cfg, logger)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
