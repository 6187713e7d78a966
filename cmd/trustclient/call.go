package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params...]",
		Short: "Execute one JSON-RPC method and print its result",
		Long: `Execute one JSON-RPC method through the verified node network.
Parameters that parse as JSON are passed as such, everything else as a string.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.CallChain(cmd.Context(), a.chainID, args[0], parseParams(args[1:])...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(res))
			return err
		},
	}
}

func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err == nil {
			params = append(params, v)
			continue
		}
		params = append(params, arg)
	}
	return params
}
