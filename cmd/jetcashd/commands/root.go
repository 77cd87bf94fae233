// Package commands implements jetcashd's cobra command tree, following
// _examples/tendermint-tendermint/cmd/tenderdash/commands/root.go's
// PersistentPreRunE config-binding pattern.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jetcash/jetcash/config"
	"github.com/jetcash/jetcash/internal/log"
)

const envPrefix = "JETCASH"

// ParseConfig binds viper's resolved flag and environment values onto
// conf and validates the result. No config file is read.
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	conf.SetRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs jetcashd's root command.
func RootCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jetcashd",
		Short: "jetcash block downloader node",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			return nil
		},
	}

	home, _ := os.UserHomeDir()
	cmd.PersistentFlags().String("home", filepath.Join(home, ".jetcashd"), "directory for config and data")
	cmd.PersistentFlags().String("log-level", conf.LogLevel, "log level (debug|info|error)")
	cmd.PersistentFlags().String("listen-address", conf.ListenAddress, "address to listen for peer connections on")

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	cmd.AddCommand(StartCmd, VersionCmd)
	return cmd
}
