// Command spacepanda is the CLI entry point for a SpacePanda node: unlock
// the local identity, found and join channels, send messages, and inspect
// the peer mesh — a thin Cobra tree over package channelmgr.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spacepanda/core/errs"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:               "spacepanda",
		Short:             "SpacePanda: end-to-end encrypted group messaging",
		PersistentPreRunE: withSession,
		SilenceUsage:      true,
	}
	root.AddCommand(
		unlockCmd,
		createChannelCmd,
		inviteCmd,
		joinCmd,
		sendCmd,
		listMembersCmd,
		connectPeerCmd,
		networkStatusCmd,
	)

	err := root.Execute()
	closeSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, "spacepanda:", err)
		return exitCodeFor(err)
	}
	return 0
}

// exitCodeFor maps a command failure to the CLI's exit code contract: 0
// success, 1 an expected/client-visible failure (bad input, not found,
// permission denied, ...), 2 an internal/unexpected failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	status := errs.ToRPCStatus(errs.KindOf(err))
	if status == errs.StatusInternal {
		return 2
	}
	return 1
}
