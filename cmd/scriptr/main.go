package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scriptr",
		Short:         "scriptr supervises user-defined scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newListCmd(),
		newLogsCmd(),
	)
	return root
}
