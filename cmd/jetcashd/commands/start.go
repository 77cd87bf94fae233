package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jetcash/jetcash/config"
	"github.com/jetcash/jetcash/internal/blockhash"
	"github.com/jetcash/jetcash/internal/blocksync"
	"github.com/jetcash/jetcash/internal/log"
	"github.com/jetcash/jetcash/node"
)

// StartCmd runs jetcashd until interrupted.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "run the jetcashd node",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return err
	}

	logger := log.NewStdoutLogger()

	n := node.New(logger, &cfg, blockhash.Zero, blocksync.Height(0))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return err
	}
	logger.Info("jetcashd started", "listen_address", cfg.ListenAddress)

	<-ctx.Done()
	logger.Info("shutting down")
	return n.Stop()
}
