package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

func status(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if out := viper.GetString(flagOut); out != "" {
		return journal.Export(out)
	}
	summary, err := journal.Summary()
	if err != nil {
		return err
	}
	return yaml.NewEncoder(cmd.OutOrStdout()).Encode(summary)
}

func StatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the journal recorded",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(cmd)
		},
	}
	cmd.Flags().String(flagOut, "", "Write the summary to this YAML file instead of stdout")
	return cmd
}
