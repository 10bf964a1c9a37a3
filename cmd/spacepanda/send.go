package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spacepanda/core/identity"
)

var sendCmd = &cobra.Command{
	Use:   "send <channel-id> <message>",
	Short: "Encrypt and publish a message to a channel",
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

		ctx, cancel := withTimeout()
		defer cancel()

		// A CLI invocation is a fresh process with a fresh gossipsub mesh;
		// give it a moment to form before publishing, or the message never
		// reaches peers who haven't finished meshing with us yet.
		time.Sleep(500 * time.Millisecond)

		msgID, err := s.mgr.SendMessage(ctx, channelID, []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msgID.String())
		return nil
	},
}
