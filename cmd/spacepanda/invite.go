package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacepanda/core/identity"
)

var invitePeerAddr string

var inviteCmd = &cobra.Command{
	Use:   "invite <channel-id> <joiner-key-package>",
	Short: "Add a member's key package to a channel and mint an invite token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureSession()
		if err != nil {
			return err
		}
		channelID, err := identity.ChannelIdFromString(args[0])
		if err != nil {
			return err
		}
		joinerKP, err := decodeKeyPackage(args[1])
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout()
		defer cancel()

		invite, err := s.mgr.CreateInvite(ctx, channelID, joinerKP, now())
		if err != nil {
			return err
		}
		encoded, err := invite.Encode()
		if err != nil {
			return err
		}

		if invitePeerAddr != "" {
			if err := s.node.Send(ctx, invitePeerAddr, []byte(encoded)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invite sent directly to %s\n", invitePeerAddr)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), encoded)
		return nil
	},
}

func init() {
	inviteCmd.Flags().StringVar(&invitePeerAddr, "peer", "", "deliver the invite directly to this peer's address instead of printing it")
}
