// Command graftd runs the modification runtime and its maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "graftd",
		Short: "Arsenal Graft modification runtime",
		Long: `graftd grants, tracks and synchronises modular equipment for game
entities. Settings come from GRAFT_* environment variables.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newTemplatesCmd(), newRecordCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
