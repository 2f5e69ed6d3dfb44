package commands

import (
	"context"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phat-tools/cluster-deployer/artifact"
	"github.com/phat-tools/cluster-deployer/deploy"
)

func addCluster() error {
	ctx := context.Background()
	e, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	system, err := artifact.LoadContractFile(filepath.Join(e.cfg.DriversDir, artifact.FileSystem))
	if err != nil {
		return err
	}
	d, err := e.deployer(ctx, false)
	if err != nil {
		return err
	}
	log.Info().Strs("workers", e.cfg.Workers).Strs("gatekeepers", e.cfg.Gatekeepers).Msg("Adding cluster")
	return e.recordRun("add-cluster", d, func() error {
		c, err := d.AddCluster(ctx, &deploy.AddClusterRequest{
			Cluster:     common.HexToHash(e.cfg.Cluster),
			Workers:     e.cfg.Workers,
			Gatekeepers: e.cfg.Gatekeepers,
			System:      system,
		})
		if err != nil {
			return err
		}
		log.Info().Str("cluster", c.ID.Hex()).Str("systemContract", c.SystemContract.Hex()).Msg("Cluster system contract address")
		return nil
	})
}

func AddClusterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-cluster",
		Short: "Register workers and gatekeepers and create a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return addCluster()
		},
	}
	cmd.Flags().String(flagCluster, "", "Cluster id, defaults to the first cluster")
	return cmd
}
