package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var connectPeerCmd = &cobra.Command{
	Use:   "connect-peer <multiaddr>",
	Short: "Dial a peer directly by its libp2p multiaddress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureSession()
		if err != nil {
			return err
		}
		if err := s.node.DialSeed([]string{args[0]}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", args[0])
		return nil
	},
}
