package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0MATRIX0/agent-connect/internal/notify"
)

func newKeysCmd(opts *rootOptions) *cobra.Command {
	var showPrivate bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the VAPID keys used for web push, generating them if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			pub, priv, source := cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, "config"
			if pub == "" {
				keys, generated, err := notify.EnsureVAPIDKeys(cfg.DataDir)
				if err != nil {
					return err
				}
				pub, priv, source = keys.PublicKey, keys.PrivateKey, notify.VAPIDKeysFileName
				if generated {
					source += " (new)"
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source:      %s\n", source)
			fmt.Fprintf(out, "public key:  %s\n", pub)
			if showPrivate {
				fmt.Fprintf(out, "private key: %s\n", priv)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPrivate, "private", false, "also print the private key")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return cfg.Encode(cmd.OutOrStdout())
		},
	}
}
