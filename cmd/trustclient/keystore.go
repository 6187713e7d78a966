package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trustclient/cmd/internal/passphrase"
	"trustclient/crypto"
)

func newKeystoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage the signing key",
	}
	var out string
	create := &cobra.Command{
		Use:   "new",
		Short: "Generate a key and write it to an encrypted keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = a.cfg.Signer.Keystore
			}
			if out == "" {
				return fmt.Errorf("no keystore path; pass --out or set Signer.Keystore")
			}
			pass, err := passphrase.NewSource(a.cfg.Signer.PassphraseEnv, "New keystore passphrase: ").Get()
			if err != nil {
				return err
			}
			signer, err := crypto.CreateKeystore(out, pass)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", signer.Accounts()[0].Hex(), out)
			return err
		},
	}
	create.Flags().StringVar(&out, "out", "", "keystore file (defaults to Signer.Keystore)")
	cmd.AddCommand(create)
	return cmd
}
