package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacepanda/core/channelmgr"
)

var joinCmd = &cobra.Command{
	Use:   "join <invite-token>",
	Short: "Redeem an invite token and join its channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureSession()
		if err != nil {
			return err
		}
		invite, err := channelmgr.DecodeInviteToken(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout()
		defer cancel()

		channelID, err := s.mgr.JoinChannel(ctx, invite, s.initKey, s.ident.Public, now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), channelID.String())
		return nil
	},
}
