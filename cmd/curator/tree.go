package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docutag/curator/folders"
	"github.com/docutag/curator/models"
)

var (
	treeRoot  string
	treeJSON  bool
	treeLinks bool

	restoreRoot string
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the folder tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		roots, err := a.curator.Tree(ctx)
		if err != nil {
			return err
		}
		if treeRoot != "" {
			node, err := folders.Find(roots, treeRoot)
			if err != nil {
				return err
			}
			roots = []*models.FolderNode{node}
		}

		if treeJSON {
			return printJSON(cmd.OutOrStdout(), roots)
		}
		for _, root := range roots {
			if treeLinks {
				printTree(cmd.OutOrStdout(), root, 0)
			} else {
				printFolders(cmd.OutOrStdout(), root)
			}
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-key>",
	Short: "Put a folder back the way a snapshot recorded it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.curator.Restore(ctx, args[0], restoreRoot)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d folders and %d bookmarks", result.Folders, result.Moved)
		if result.Missing > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %d bookmarks no longer exist", result.Missing)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	treeCmd.Flags().StringVar(&treeRoot, "root", "", "Only print the subtree of this folder ID")
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "Output as JSON")
	treeCmd.Flags().BoolVar(&treeLinks, "links", false, "Print bookmarks as well as folders")
	rootCmd.AddCommand(treeCmd)

	restoreCmd.Flags().StringVar(&restoreRoot, "root", "", "ID of the folder to restore (default from config)")
	rootCmd.AddCommand(restoreCmd)
}

// printTree writes node and everything below it, one indented line each
func printTree(w io.Writer, node *models.FolderNode, depth int) {
	type item struct {
		node  *models.FolderNode
		depth int
	}
	stack := []item{{node, depth}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		indent := strings.Repeat("  ", it.depth)
		if it.node.IsFolder() {
			fmt.Fprintf(w, "%s%s/  [%s]\n", indent, it.node.Title, it.node.ID)
		} else {
			fmt.Fprintf(w, "%s%s  %s\n", indent, it.node.Title, it.node.URL)
		}
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{it.node.Children[i], it.depth + 1})
		}
	}
}

// printFolders writes the folder outline with link counts
func printFolders(w io.Writer, root *models.FolderNode) {
	type item struct {
		node  *models.FolderNode
		depth int
	}
	stack := []item{{root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		links := 0
		for _, c := range it.node.Children {
			if !c.IsFolder() {
				links++
			}
		}
		fmt.Fprintf(w, "%s%s (%d)  [%s]\n", strings.Repeat("  ", it.depth), it.node.Title, links, it.node.ID)
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			if c := it.node.Children[i]; c.IsFolder() {
				stack = append(stack, item{c, it.depth + 1})
			}
		}
	}
}
