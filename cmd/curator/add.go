package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docutag/curator/health"
	"github.com/docutag/curator/models"
)

var (
	addParent string
	addTitle  string
	addFolder bool
)

var addCmd = &cobra.Command{
	Use:   "add <url | folder name>",
	Short: "Add a bookmark, or a folder with --folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		parent := addParent
		if parent == "" {
			parent = a.cfg.Curator.RootID
		}

		var node *models.FolderNode
		if addFolder {
			node, err = a.db.CreateFolder(ctx, parent, args[0])
		} else {
			title := addTitle
			if title == "" {
				title = args[0]
			}
			if !health.Probeable(models.Entry{URL: args[0]}) {
				a.logger.Warn("bookmark is not an http(s) link and will not be checked", "url", args[0])
			}
			node, err = a.db.CreateLink(ctx, parent, title, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), node.ID)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addParent, "parent", "", "ID of the folder to add to (default from config)")
	addCmd.Flags().StringVar(&addTitle, "title", "", "Bookmark title (default is the URL)")
	addCmd.Flags().BoolVar(&addFolder, "folder", false, "Create a folder instead of a bookmark")
	rootCmd.AddCommand(addCmd)
}
