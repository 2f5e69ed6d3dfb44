package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phat-tools/cluster-deployer/chain"
	"github.com/phat-tools/cluster-deployer/poller"
)

func waitStorage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pallet, item, keys := args[0], args[1], args[2:]
	sidecar := chain.NewSidecar(cfg.Chain.SidecarURL)
	timeout := poller.BlockTimeout(cfg.Chain.BlockInterval, viper.GetInt(flagBlocks))

	err = poller.WaitUntil(context.Background(), func(ctx context.Context) (bool, error) {
		return sidecar.StorageExists(ctx, pallet, item, keys...)
	}, timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s.%s%v is set\n", pallet, item, keys)
	return nil
}

func WaitStorageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait-storage <pallet> <item> [keys...]",
		Short: "Block until a storage entry is set",
		Args:  cobra.MinimumNArgs(2),
		RunE:  waitStorage,
	}
	cmd.Flags().Int(flagBlocks, poller.DefaultBlocks, "How many blocks to wait")
	return cmd
}
