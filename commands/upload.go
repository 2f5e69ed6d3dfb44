package commands

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phat-tools/cluster-deployer/artifact"
	"github.com/phat-tools/cluster-deployer/chain"
)

// loadCode reads an ink contract bundle or a sidevm program.
func loadCode(path, codeType string) (name string, code []byte, err error) {
	switch codeType {
	case chain.CodeTypeInk:
		c, err := artifact.LoadContractFile(path)
		if err != nil {
			return "", nil, err
		}
		return c.Name, c.Wasm, nil
	case chain.CodeTypeSidevm:
		code, err := artifact.LoadSidevmCode(path)
		return strings.TrimSuffix(filepath.Base(path), ".wasm"), code, err
	}
	return "", nil, errors.Errorf("unknown code type %q", codeType)
}

func upload() error {
	ctx := context.Background()
	e, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	name, code, err := loadCode(viper.GetString(flagFile), viper.GetString(flagCodeType))
	if err != nil {
		return err
	}
	if n := viper.GetString(flagName); n != "" {
		name = n
	}
	d, err := e.deployer(ctx, false)
	if err != nil {
		return err
	}
	cluster := common.HexToHash(e.cfg.Cluster)
	return e.recordRun("upload", d, func() error {
		return d.UploadCode(ctx, cluster, name, viper.GetString(flagCodeType), code)
	})
}

func UploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a contract or sidevm code to a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return upload()
		},
	}
	cmd.Flags().String(flagFile, "", "Path to a .contract bundle or a sidevm wasm")
	cmd.Flags().String(flagCodeType, chain.CodeTypeInk, "Code type, InkCode or SidevmCode")
	cmd.Flags().String(flagName, "", "Name to record the code under")
	cmd.Flags().String(flagCluster, "", "Cluster id, defaults to the first cluster")
	cmd.MarkFlagRequired(flagFile)
	return cmd
}
