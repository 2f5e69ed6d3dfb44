package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phat-tools/cluster-deployer/types"
)

// chainOnly connects to the chain without opening the journal.
func chainOnly(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, accounts: make(map[string]*types.Account)}
	if err := e.dial(ctx); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func nonce(cmd *cobra.Command) error {
	ctx := context.Background()
	e, err := chainOnly(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	key := viper.GetString(flagAccount)
	if key == "" {
		key = e.cfg.Accounts.Sudo
	}
	acc, err := e.account(ctx, key)
	if err != nil {
		return err
	}
	n, err := e.queue.NextNonce(ctx, acc.Address)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", acc.Address, n)
	return nil
}

func NonceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nonce",
		Short: "Print the next nonce of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nonce(cmd)
		},
	}
	cmd.Flags().String(flagAccount, "", "Signing key of the account, defaults to the sudo key")
	return cmd
}
