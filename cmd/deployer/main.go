package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phat-tools/cluster-deployer/commands"
	"github.com/phat-tools/cluster-deployer/config"
)

const (
	flagConfig      = "config"
	flagProfile     = "profile"
	flagDB          = "db"
	flagMetricsAddr = "metrics-addr"
)

func main() {
	cobra.EnableCommandSorting = false
	log.Logger = log.With().Caller().Logger()

	rootCmd := &cobra.Command{
		Use:          "deployer",
		Short:        "Phat Contract cluster deployer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(viper.GetViper())
			err := viper.BindPFlags(cmd.Flags())
			if err != nil {
				return err
			}
			err = viper.BindPFlag(config.KeyMetricsAddr, cmd.Flags().Lookup(flagMetricsAddr))
			if err != nil {
				return err
			}
			if path := viper.GetString(flagConfig); path != "" {
				return config.ReadFile(viper.GetViper(), path)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		commands.AddClusterCommand(),
		commands.BatchSetupCommand(),
		commands.UploadCommand(),
		commands.NonceCommand(),
		commands.WaitStorageCommand(),
		commands.StatusCommand(),
		commands.ConfigInitCommand(),
	)

	rootCmd.PersistentFlags().String(flagConfig, "", "YAML config path")
	rootCmd.PersistentFlags().String(flagProfile, config.DefaultProfile, "Chain profile: local, poc5 or mainnet")
	rootCmd.PersistentFlags().String(flagDB, "./deployer-db", "Journal directory")
	rootCmd.PersistentFlags().String(flagMetricsAddr, "", "Serve prometheus metrics on this address")
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
