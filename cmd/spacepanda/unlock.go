package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Decrypt the local keystore and print this node's identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureSession()
		if err != nil {
			return err
		}
		kp, err := encodeKeyPackage(s.keyPackage)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user: %s\nkey-package: %s\n", s.ident.UserID, kp)
		return nil
	},
}
