package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newNodesCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Show the node registry of a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if refresh {
				if err := c.Refresh(a.chainID); err != nil {
					return err
				}
				if _, err := c.CallChain(cmd.Context(), a.chainID, "eth_blockNumber"); err != nil {
					return err
				}
			}
			nodes, weights, err := c.Nodes(a.chainID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tURL\tPROPS\tAVG MS\tBLACKLISTED")
			now := time.Now()
			for i, n := range nodes {
				avg, status := uint32(0), "-"
				if i < len(weights) {
					avg = weights[i].AverageResponseTime()
					if weights[i].IsBlacklisted(now) {
						status = time.Unix(int64(weights[i].BlacklistedUntil), 0).UTC().Format(time.RFC3339)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", n.Address.Hex(), n.URL, n.Props, avg, status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the node list before printing")
	return cmd
}
