package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	migrateJSON bool
	migrateYes  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect or roll back the database schema",
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List schema migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.db.Migrations()
		if err != nil {
			return err
		}
		if migrateJSON {
			return printJSON(cmd.OutOrStdout(), status)
		}
		for _, s := range status {
			mark := " "
			if s.Applied {
				mark = "x"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %03d %s\n", mark, s.Version, s.Name)
		}
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the newest applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !migrateYes {
			return fmt.Errorf("reverting a migration can drop data; add --yes to confirm")
		}
		a, err := openApp(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.db.RollbackLast()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reverted %03d %s\n", m.Version, m.Name)
		return nil
	},
}

func init() {
	migrateStatusCmd.Flags().BoolVar(&migrateJSON, "json", false, "Output as JSON")
	migrateDownCmd.Flags().BoolVarP(&migrateYes, "yes", "y", false, "Confirm the rollback")
	migrateCmd.AddCommand(migrateStatusCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
