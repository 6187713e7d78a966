package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted node registries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached node list",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.ClearCache(); err != nil {
				_ = c.Close()
				return err
			}
			// Close would write the registries back.
			if err := c.CloseWithoutPersist(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return err
		},
	})
	return cmd
}
