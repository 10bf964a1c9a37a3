package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacepanda/core/channelmgr"
)

var createChannelVoice bool

var createChannelCmd = &cobra.Command{
	Use:   "create-channel <name>",
	Short: "Found a new channel with this node as its sole member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureSession()
		if err != nil {
			return err
		}
		typ := channelmgr.ChannelText
		if createChannelVoice {
			typ = channelmgr.ChannelVoice
		}

		ctx, cancel := withTimeout()
		defer cancel()

		channelID, err := s.mgr.CreateChannel(ctx, args[0], typ, s.keyPackage, s.initKey, now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), channelID.String())
		return nil
	},
}

func init() {
	createChannelCmd.Flags().BoolVar(&createChannelVoice, "voice", false, "create a voice channel instead of text")
}
