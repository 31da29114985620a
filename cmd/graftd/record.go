package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/persist"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Maintain persisted slot records",
	}
	var write bool
	upgrade := &cobra.Command{
		Use:   "upgrade FILE",
		Short: "Migrate a slot record to the current version",
		Long: `Reads a persisted slot record, applies every pending migration and
prints the result. With --write the file is replaced in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return upgradeRecord(cmd, args[0], write)
		},
	}
	upgrade.Flags().BoolVarP(&write, "write", "w", false, "rewrite FILE instead of printing")
	cmd.AddCommand(upgrade)
	return cmd
}

func upgradeRecord(cmd *cobra.Command, path string, write bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	store := persist.NewStore(persist.DefaultChain(), log.Nop(), nil)
	out, migrated, err := store.Upgrade(data)
	if err != nil {
		return fmt.Errorf("upgrade %s: %w", path, err)
	}
	if len(migrated) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s is current\n", path)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s migrated from versions %v\n", path, migrated)
	}
	if !write {
		_, err := cmd.OutOrStdout().Write(append(out, '\n'))
		return err
	}
	if len(migrated) == 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, info.Mode().Perm())
}
