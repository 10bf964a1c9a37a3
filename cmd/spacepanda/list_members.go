package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacepanda/core/identity"
)

var listMembersCmd = &cobra.Command{
	Use:   "list-members <channel-id>",
	Short: "List the current members of a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureSession()
		if err != nil {
			return err
		}
		channelID, err := identity.ChannelIdFromString(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout()
		defer cancel()

		members, err := s.mgr.ListMembers(ctx, channelID)
		if err != nil {
			return err
		}
		for _, member := range members {
			fmt.Fprintln(cmd.OutOrStdout(), member.String())
		}
		return nil
	},
}
