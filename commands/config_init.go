package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phat-tools/cluster-deployer/config"
)

func ConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config-init",
		Short: "Write the resolved configuration to a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := viper.GetString(flagOut)
			if err := config.WriteFile(cfg, out); err != nil {
				return err
			}
			log.Info().Str("file", out).Str("profile", cfg.Profile).Msg("Config written")
			return nil
		},
	}
	cmd.Flags().String(flagOut, "./deployer.yaml", "Output file")
	return cmd
}
