package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var networkStatusCmd = &cobra.Command{
	Use:   "network-status",
	Short: "Print this node's dialable address and its known peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureSession()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "self: %s\n", s.node.Self())
		peers := s.node.Peers()
		if len(peers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "peers: none")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "peers:")
		for id, addr := range peers {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", id, addr)
		}
		return nil
	},
}
