package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phat-tools/cluster-deployer/artifact"
)

func batchSetup(cmd *cobra.Command) error {
	ctx := context.Background()
	e, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	drivers, err := artifact.LoadDrivers(e.cfg.DriversDir)
	if err != nil {
		return err
	}
	// batches on mainnet go through the council, so they are printed by default
	dryRun := !e.cfg.Chain.IsTestnet
	if cmd.Flags().Changed(flagDryRun) {
		dryRun = viper.GetBool(flagDryRun)
	}
	d, err := e.deployer(ctx, dryRun)
	if err != nil {
		return err
	}
	d.OnDryRun(func(name string, call []byte) {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", name, call)
	})
	c, err := e.cluster(ctx, d)
	if err != nil {
		return err
	}
	return e.recordRun("batch-setup", d, func() error {
		return d.SetupDrivers(ctx, c, drivers)
	})
}

func BatchSetupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch-setup",
		Short: "Upload the driver contracts and install them in a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return batchSetup(cmd)
		},
	}
	cmd.Flags().String(flagCluster, "", "Cluster id, defaults to the first cluster")
	cmd.Flags().Bool(flagDryRun, false, "Print the driver batches instead of submitting them (default on mainnet)")
	return cmd
}
