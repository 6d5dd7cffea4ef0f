package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/docutag/curator"
	"github.com/docutag/curator/models"
)

var (
	checkRoot   string
	checkStrict bool
	checkWindow int
	checkJSON   bool

	pruneYes  bool
	pruneJSON bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every link under a folder and record which are dead",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		strict := a.cfg.Health.Strict
		if cmd.Flags().Changed("strict") {
			strict = checkStrict
		}

		report, err := a.curator.Check(ctx, curator.CheckOptions{
			RootID: checkRoot,
			Strict: strict,
			Window: checkWindow,
			Progress: func(done, total int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\rchecked %d/%d", done, total)
				if done == total {
					fmt.Fprintln(cmd.ErrOrStderr())
				}
			},
		})
		if err != nil {
			return err
		}

		if checkJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d links: %d alive, %d dead\n", report.Checked, report.Alive, report.Dead)
		printDead(cmd.OutOrStdout(), deadOnly(report.Verdicts))
		if report.Dead > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), `run "curator prune --yes" to delete them`)
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the links the last check found dead",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if !pruneYes {
			dead, err := a.curator.DeadLinks(ctx)
			if err != nil {
				return err
			}
			printDead(cmd.OutOrStdout(), dead)
			fmt.Fprintf(cmd.OutOrStdout(), "%d dead links; add --yes to delete them\n", len(dead))
			return nil
		}

		report, err := a.curator.Prune(ctx, true)
		if err != nil {
			return err
		}
		if pruneJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d dead links", report.Deleted)
		if report.Failed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %d could not be deleted", report.Failed)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkRoot, "root", "", "ID of the folder to check (default from config)")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "Also flag parked domains and error pages served with 200")
	checkCmd.Flags().IntVar(&checkWindow, "window", 0, "Links probed at once (default from config)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(checkCmd)

	pruneCmd.Flags().BoolVarP(&pruneYes, "yes", "y", false, "Confirm deletion")
	pruneCmd.Flags().BoolVar(&pruneJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(pruneCmd)
}

func deadOnly(verdicts []models.HealthVerdict) []models.HealthVerdict {
	var dead []models.HealthVerdict
	for _, v := range verdicts {
		if !v.Alive {
			dead = append(dead, v)
		}
	}
	return dead
}

func printDead(w io.Writer, dead []models.HealthVerdict) {
	for _, v := range dead {
		reason := v.Reason
		switch {
		case reason != "":
		case v.Error != "":
			reason = v.Error
		default:
			reason = fmt.Sprintf("HTTP %d", v.Status)
		}
		fmt.Fprintf(w, "  %s  %s\n", v.URL, reason)
	}
}
