package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/curator/config"
	"github.com/docutag/curator/models"
)

func sampleTree() *models.FolderNode {
	return &models.FolderNode{ID: "root", Title: "Bookmarks", Children: []*models.FolderNode{
		{ID: "a", Title: "Dev", Children: []*models.FolderNode{
			{ID: "l1", Title: "Go", URL: "https://go.dev"},
			{ID: "b", Title: "Go", Children: []*models.FolderNode{}},
		}},
		{ID: "l2", Title: "Loose", URL: "https://loose.example"},
	}}
}

func TestPrintTree(t *testing.T) {
	var out bytes.Buffer
	printTree(&out, sampleTree(), 0)

	want := strings.Join([]string{
		"Bookmarks/  [root]",
		"  Dev/  [a]",
		"    Go  https://go.dev",
		"    Go/  [b]",
		"  Loose  https://loose.example",
		"",
	}, "\n")
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintFolders(t *testing.T) {
	var out bytes.Buffer
	printFolders(&out, sampleTree())
	assert.Equal(t, "Bookmarks (1)  [root]\n  Dev (1)  [a]\n    Go (0)  [b]\n", out.String())
}

func TestPrintDead(t *testing.T) {
	var out bytes.Buffer
	printDead(&out, []models.HealthVerdict{
		{URL: "https://a.example", Status: 404},
		{URL: "https://b.example", Error: "timeout"},
		{URL: "https://c.example", Status: 200, Reason: "parked_domain"},
	})
	assert.Equal(t, "  https://a.example  HTTP 404\n  https://b.example  timeout\n  https://c.example  parked_domain\n", out.String())
}

func TestOrganizeOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Curator.Allowed = []string{"Work"}
	cfg.Curator.MaxCategories = 7
	cfg.Curator.Promote = true

	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(organizeCmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--max-categories", "3", "--promote=false", "--reset", "--yes"}))
	t.Cleanup(func() {
		organizeMaxCategories, organizePromote, organizeReset, organizeYes = 0, false, false, false
	})

	opts := organizeOptions(cmd, cfg)
	assert.Equal(t, []string{"Work"}, opts.Allowed, "unset flags keep config values")
	assert.Equal(t, 3, opts.MaxCategories)
	assert.False(t, opts.Promote)
	assert.True(t, opts.Reset)
	assert.True(t, opts.Confirm)
	assert.Equal(t, "root", opts.RootID)
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "curator.yaml")
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(dir, "curator.db")
	cfg.Storage.Path = filepath.Join(dir, "snapshots")
	require.NoError(t, cfg.Save(cfgPath))

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&bytes.Buffer{})
		rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		err := rootCmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	folderID, err := run("add", "--folder", "Reading")
	require.NoError(t, err)
	folderID = strings.TrimSpace(folderID)
	require.NotEmpty(t, folderID)
	addFolder = false

	_, err = run("add", "--parent", folderID, "--title", "Go", "https://go.dev")
	require.NoError(t, err)
	addParent, addTitle = "", ""

	_, err = run("add", "--parent", "missing", "https://example.com")
	assert.Error(t, err)
	addParent = ""

	out, err := run("tree")
	require.NoError(t, err)
	assert.Equal(t, "Bookmarks (0)  [root]\n  Reading (1)  ["+folderID+"]\n", out)

	out, err = run("prune")
	require.NoError(t, err)
	assert.Contains(t, out, "0 dead links; add --yes to delete them")

	_, err = run("organize", "--reset")
	assert.ErrorContains(t, err, "--yes")
	organizeReset = false

	_, err = run("restore")
	assert.Error(t, err, "restore needs a snapshot key")

	out, err = run("migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "[x] 001 create_nodes_table")

	_, err = run("migrate", "down")
	assert.ErrorContains(t, err, "--yes")
}
