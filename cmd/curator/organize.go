package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/docutag/curator"
	"github.com/docutag/curator/config"
	"github.com/docutag/curator/models"
)

var (
	organizeRoot          string
	organizeAllowed       []string
	organizeMaxCategories int
	organizeFlatten       bool
	organizePromote       bool
	organizeReview        bool
	organizeReorder       bool
	organizeReset         bool
	organizeYes           bool
	organizeDryRun        bool
	organizeJSON          bool
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Classify every bookmark under a folder and move it into category folders",
	Long: `Classify every bookmark under a folder and move it into category folders.

With --reset the folder is emptied into a backup folder first and a snapshot
of it is saved, so the run can be undone with "curator restore". A reset is
only performed together with --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if organizeReset && !organizeYes {
			return fmt.Errorf("--reset empties the folder before reorganizing; add --yes to confirm")
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := organizeOptions(cmd, a.cfg)
		opts.Progress = func(done, total int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "classified batch %d/%d\n", done, total)
		}

		report, err := a.curator.Organize(ctx, opts)
		if report != nil {
			if organizeJSON {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printOrganizeReport(cmd.OutOrStdout(), report)
			}
		}

		var planErr *curator.PlanningError
		if errors.As(err, &planErr) && report != nil && report.SnapshotKey != "" {
			return fmt.Errorf("%w\nrun \"curator restore %s\" to put the folder back", err, report.SnapshotKey)
		}
		return err
	},
}

func init() {
	f := organizeCmd.Flags()
	f.StringVar(&organizeRoot, "root", "", "ID of the folder to reorganize (default from config)")
	f.StringSliceVar(&organizeAllowed, "allowed", nil, "Only use these top-level category names")
	f.IntVar(&organizeMaxCategories, "max-categories", 0, "Cap on top-level categories, 0 for the configured default")
	f.BoolVar(&organizeFlatten, "flatten", false, "Use top-level categories only")
	f.BoolVar(&organizePromote, "promote", false, "Promote the largest group hidden in the overflow folder")
	f.BoolVar(&organizeReview, "review", false, "Re-classify overflow against the chosen categories")
	f.BoolVar(&organizeReorder, "reorder", false, "Order top-level folders by importance")
	f.BoolVar(&organizeReset, "reset", false, "Empty the folder into a backup before reorganizing")
	f.BoolVarP(&organizeYes, "yes", "y", false, "Confirm a destructive reset")
	f.BoolVar(&organizeDryRun, "dry-run", false, "Plan against a copy of the tree and print the result")
	f.BoolVar(&organizeJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(organizeCmd)
}

// organizeOptions starts from the configured defaults and applies the flags
// that were set explicitly
func organizeOptions(cmd *cobra.Command, cfg *config.Config) curator.Options {
	opts := curator.Options{
		RootID:        cfg.Curator.RootID,
		Allowed:       cfg.Curator.Allowed,
		MaxCategories: cfg.Curator.MaxCategories,
		Flatten:       cfg.Curator.Flatten,
		Promote:       cfg.Curator.Promote,
		Review:        cfg.Curator.Review,
		Reorder:       cfg.Curator.Reorder,
	}

	f := cmd.Flags()
	if f.Changed("root") {
		opts.RootID = organizeRoot
	}
	if f.Changed("allowed") {
		opts.Allowed = organizeAllowed
	}
	if f.Changed("max-categories") {
		opts.MaxCategories = organizeMaxCategories
	}
	if f.Changed("flatten") {
		opts.Flatten = organizeFlatten
	}
	if f.Changed("promote") {
		opts.Promote = organizePromote
	}
	if f.Changed("review") {
		opts.Review = organizeReview
	}
	if f.Changed("reorder") {
		opts.Reorder = organizeReorder
	}
	opts.Reset = organizeReset
	opts.Confirm = organizeYes
	opts.DryRun = organizeDryRun
	return opts
}

func printOrganizeReport(w io.Writer, r *models.OrganizeResponse) {
	if r.DryRun {
		fmt.Fprintln(w, "dry run, nothing was changed")
	}
	fmt.Fprintf(w, "moved %d bookmarks into %d categories", r.Moved, len(r.Categories))
	if r.Failed > 0 {
		fmt.Fprintf(w, " (%d failed)", r.Failed)
	}
	fmt.Fprintln(w)
	for _, name := range r.Categories {
		fmt.Fprintf(w, "  %s\n", name)
	}
	if r.Promoted != "" {
		fmt.Fprintf(w, "promoted %s", r.Promoted)
		if r.Evicted != "" {
			fmt.Fprintf(w, ", folded %s into overflow", r.Evicted)
		}
		fmt.Fprintln(w)
	}
	if r.Reviewed > 0 {
		fmt.Fprintf(w, "review moved %d bookmarks out of overflow\n", r.Reviewed)
	}
	if r.SnapshotKey != "" {
		fmt.Fprintf(w, "snapshot: %s\n", r.SnapshotKey)
	}
	if r.BackupID != "" {
		fmt.Fprintf(w, "backup folder kept: %s\n", r.BackupID)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if r.Tree != nil {
		printTree(w, r.Tree, 0)
	}
}
