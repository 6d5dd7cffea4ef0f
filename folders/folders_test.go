package folders

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/curator/category"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/plan"
)

// fixture builds root -> [Old folder -> links 0..2, link 3, Misc folder -> Nested -> link 4]
func fixture(t *testing.T) (*MemoryTree, []models.Entry) {
	t.Helper()
	tree := NewMemoryTree("root", "Bookmarks")

	old, err := tree.CreateFolder(context.Background(), "root", "Old")
	require.NoError(t, err)

	var entries []models.Entry
	addLink := func(parentID string, i int) {
		n, err := tree.AddLink(parentID, fmt.Sprintf("Link %d", i), fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
		entries = append(entries, n.Entry())
	}
	for i := 0; i < 3; i++ {
		addLink(old.ID, i)
	}
	addLink("root", 3)

	misc, err := tree.CreateFolder(context.Background(), "root", "Misc")
	require.NoError(t, err)
	nested, err := tree.CreateFolder(context.Background(), misc.ID, "Nested")
	require.NoError(t, err)
	addLink(nested.ID, 4)

	return tree, entries
}

func childTitles(t *testing.T, tree Tree, parentID string) []string {
	t.Helper()
	children, err := tree.GetChildren(context.Background(), parentID)
	require.NoError(t, err)
	var titles []string
	for _, c := range children {
		titles = append(titles, c.Title)
	}
	return titles
}

func folderID(t *testing.T, tree Tree, parentID, title string) string {
	t.Helper()
	children, err := tree.GetChildren(context.Background(), parentID)
	require.NoError(t, err)
	for _, c := range children {
		if c.Title == title && c.IsFolder() {
			return c.ID
		}
	}
	t.Fatalf("folder %q not found under %s", title, parentID)
	return ""
}

func TestCollectEntries(t *testing.T) {
	tree, entries := fixture(t)
	roots, err := tree.GetTree(context.Background())
	require.NoError(t, err)

	collected, err := CollectEntries(roots[0])
	require.NoError(t, err)
	require.Len(t, collected, len(entries))
	for i := range entries {
		assert.Equal(t, entries[i].ID, collected[i].ID)
	}

	misc, err := Find(roots, folderID(t, tree, "root", "Misc"))
	require.NoError(t, err)
	collected, err = CollectEntries(roots[0], misc.ID)
	require.NoError(t, err)
	assert.Len(t, collected, 4)
}

func TestTraversalGuards(t *testing.T) {
	a := &models.FolderNode{ID: "a", Title: "a"}
	b := &models.FolderNode{ID: "b", Title: "b", Children: []*models.FolderNode{a}}
	a.Children = []*models.FolderNode{b}

	_, err := CollectEntries(&models.FolderNode{ID: "r", Children: []*models.FolderNode{a}})
	assert.ErrorIs(t, err, ErrCycle)

	deep := &models.FolderNode{ID: "d0"}
	cur := deep
	for i := 1; i <= MaxDepth+2; i++ {
		next := &models.FolderNode{ID: fmt.Sprintf("d%d", i)}
		cur.Children = []*models.FolderNode{next}
		cur = next
	}
	_, err = Find([]*models.FolderNode{deep}, "missing")
	assert.ErrorIs(t, err, ErrTooDeep)

	_, err = Find([]*models.FolderNode{b}, "nope")
	assert.Error(t, err)
}

func TestMaterializeReusesFolders(t *testing.T) {
	tree, entries := fixture(t)
	r := New(tree, nil)
	rc := NewRunContext()

	assignments := []plan.Assignment{
		{Entry: entries[0], Path: category.Path{"Dev", "Go"}},
		{Entry: entries[1], Path: category.Path{"Dev", "Go"}},
		{Entry: entries[2], Path: category.Path{"Dev"}},
		{Entry: entries[3], Path: category.Path{"Old"}},
	}

	result, err := r.Materialize(context.Background(), rc, assignments, "root")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Moved)
	assert.Equal(t, []string{"Dev", "Dev/Go", "Old"}, result.Paths)
	assert.Equal(t, 2, rc.Created(), "Dev and Dev/Go created once, Old reused")

	assert.Equal(t, []string{"Old", "Misc", "Dev"}, childTitles(t, tree, "root"))
	dev := folderID(t, tree, "root", "Dev")
	assert.Equal(t, []string{"Go", "Link 2"}, childTitles(t, tree, dev))
	assert.Equal(t, []string{"Link 0", "Link 1"}, childTitles(t, tree, folderID(t, tree, dev, "Go")))
	assert.Equal(t, []string{"Link 3"}, childTitles(t, tree, folderID(t, tree, "root", "Old")))
}

func TestEnsureFolderIgnoresCase(t *testing.T) {
	tree, _ := fixture(t)
	r := New(tree, nil)
	rc := NewRunContext()

	id, err := r.EnsureFolder(context.Background(), rc, "root", " misc ")
	require.NoError(t, err)
	assert.Equal(t, folderID(t, tree, "root", "Misc"), id)
	assert.Equal(t, 0, rc.Created())
	assert.Equal(t, []string{"Old", "Link 3", "Misc"}, childTitles(t, tree, "root"))
}

func TestMaterializePartialFailure(t *testing.T) {
	tree, entries := fixture(t)
	tree.MoveHook = func(id, parentID string) error {
		if id == entries[1].ID {
			return errors.New("locked")
		}
		return nil
	}
	r := New(tree, nil)

	var assignments []plan.Assignment
	for _, e := range entries {
		assignments = append(assignments, plan.Assignment{Entry: e, Path: category.Path{"Dev"}})
	}

	result, err := r.Materialize(context.Background(), NewRunContext(), assignments, "root")
	require.Error(t, err)

	var partial *PartialFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 4, partial.Moved)
	assert.Len(t, partial.Errors, 1)
	assert.Equal(t, 4, result.Moved)
}

func TestPrepareResetRequiresConfirmation(t *testing.T) {
	tree, _ := fixture(t)
	r := New(tree, nil)
	rc := NewRunContext()

	_, err := r.PrepareReset(context.Background(), rc, "root", false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Empty(t, rc.BackupID)
	assert.Equal(t, []string{"Old", "Link 3", "Misc"}, childTitles(t, tree, "root"))
}

func TestResetRoundTrip(t *testing.T) {
	tree, entries := fixture(t)
	r := New(tree, nil)
	rc := NewRunContext()

	moved, err := r.PrepareReset(context.Background(), rc, "root", true)
	require.NoError(t, err)
	require.Len(t, moved, len(entries))
	require.NotEmpty(t, rc.BackupID)

	children, err := tree.GetChildren(context.Background(), "root")
	require.NoError(t, err)
	require.Len(t, children, 1, "only the backup folder remains")
	assert.Equal(t, rc.BackupID, children[0].ID)
	assert.Len(t, childTitles(t, tree, rc.BackupID), len(entries))

	// Classify all but the last entry.
	var assignments []plan.Assignment
	for _, e := range moved[:4] {
		assignments = append(assignments, plan.Assignment{Entry: e, Path: category.Path{"Dev"}})
	}
	_, err = r.Materialize(context.Background(), rc, assignments, "root")
	require.NoError(t, err)

	swept, removed, err := r.Finish(context.Background(), rc, "root", "Other")
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.True(t, removed)
	assert.Empty(t, rc.BackupID)

	assert.Equal(t, []string{"Dev", "Other"}, childTitles(t, tree, "root"))
	assert.Equal(t, []string{"Link 4"}, childTitles(t, tree, folderID(t, tree, "root", "Other")))
}

func TestResetFailureKeepsBackup(t *testing.T) {
	tree, entries := fixture(t)
	r := New(tree, nil)
	rc := NewRunContext()

	_, err := r.PrepareReset(context.Background(), rc, "root", true)
	require.NoError(t, err)

	// Every move out of the backup fails.
	tree.MoveHook = func(id, parentID string) error { return errors.New("store offline") }
	var assignments []plan.Assignment
	for _, e := range entries {
		assignments = append(assignments, plan.Assignment{Entry: e, Path: category.Path{"Dev"}})
	}
	_, err = r.Materialize(context.Background(), rc, assignments, "root")
	require.Error(t, err)

	_, removed, err := r.Finish(context.Background(), rc, "root", "Other")
	require.NoError(t, err)
	assert.False(t, removed)
	require.NotEmpty(t, rc.BackupID)
	assert.Len(t, childTitles(t, tree, rc.BackupID), len(entries))
}

func TestPrepareResetMoveFailureReportsBackup(t *testing.T) {
	tree, entries := fixture(t)
	tree.MoveHook = func(id, parentID string) error {
		if id == entries[2].ID {
			return errors.New("boom")
		}
		return nil
	}
	r := New(tree, nil)
	rc := NewRunContext()

	_, err := r.PrepareReset(context.Background(), rc, "root", true)
	var resetErr *ResetError
	require.True(t, errors.As(err, &resetErr))
	assert.Equal(t, rc.BackupID, resetErr.BackupID)
	assert.Len(t, childTitles(t, tree, resetErr.BackupID), 2)
}

func TestReorder(t *testing.T) {
	tree := NewMemoryTree("root", "Bookmarks")
	ctx := context.Background()
	for _, title := range []string{"News", "Pinned", "Dev", "Other", "Tools"} {
		_, err := tree.CreateFolder(ctx, "root", title)
		require.NoError(t, err)
	}
	_, err := tree.AddLink("root", "Loose link", "https://example.com")
	require.NoError(t, err)

	r := New(tree, nil)
	moves, err := r.Reorder(ctx, "root", []string{"Tools", "Dev", "Unknown"}, []string{"News", "Dev", "Other", "Tools"})
	require.NoError(t, err)
	assert.Greater(t, moves, 0)

	// Known folders occupy slots 0, 2, 3, 4 in ranked-then-existing order;
	// Pinned and the loose link keep their positions.
	assert.Equal(t, []string{"Tools", "Pinned", "Dev", "News", "Other", "Loose link"}, childTitles(t, tree, "root"))

	moves, err = r.Reorder(ctx, "root", []string{"Tools", "Dev"}, []string{"News", "Dev", "Other", "Tools"})
	require.NoError(t, err)
	assert.Equal(t, 0, moves)
}

func TestRestoreSnapshot(t *testing.T) {
	tree, entries := fixture(t)
	ctx := context.Background()
	roots, err := tree.GetTree(ctx)
	require.NoError(t, err)
	snapshot := roots[0]

	r := New(tree, nil)
	rc := NewRunContext()
	_, err = r.PrepareReset(ctx, rc, "root", true)
	require.NoError(t, err)

	// One entry disappears before the restore.
	require.NoError(t, tree.RemoveTree(ctx, entries[3].ID))

	result, err := r.Restore(ctx, NewRunContext(), snapshot, "root")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Moved)
	assert.Equal(t, 1, result.Missing)
	assert.Equal(t, 3, result.Folders)

	old := folderID(t, tree, "root", "Old")
	assert.Equal(t, []string{"Link 0", "Link 1", "Link 2"}, childTitles(t, tree, old))
	nested := folderID(t, tree, folderID(t, tree, "root", "Misc"), "Nested")
	assert.Equal(t, []string{"Link 4"}, childTitles(t, tree, nested))
	assert.Empty(t, childTitles(t, tree, rc.BackupID))
}

func TestMemoryTreeMoveIntoOwnSubtree(t *testing.T) {
	tree := NewMemoryTree("root", "Bookmarks")
	ctx := context.Background()
	a, err := tree.CreateFolder(ctx, "root", "a")
	require.NoError(t, err)
	b, err := tree.CreateFolder(ctx, a.ID, "b")
	require.NoError(t, err)

	assert.Error(t, tree.Move(ctx, a.ID, b.ID, -1))
	assert.Error(t, tree.Move(ctx, a.ID, "missing", -1))
}

func TestCopyTree(t *testing.T) {
	tree, entries := fixture(t)
	roots, err := tree.GetTree(context.Background())
	require.NoError(t, err)

	copied, err := CopyTree(roots)
	require.NoError(t, err)
	require.NoError(t, copied.Move(context.Background(), entries[0].ID, "root", 0))

	assert.Equal(t, []string{"Link 0", "Old", "Link 3", "Misc"}, childTitles(t, copied, "root"))
	assert.Equal(t, []string{"Old", "Link 3", "Misc"}, childTitles(t, tree, "root"))

	a := &models.FolderNode{ID: "a", Title: "a"}
	a.Children = []*models.FolderNode{{ID: "b", Title: "b", Children: []*models.FolderNode{a}}}
	_, err = CopyTree([]*models.FolderNode{a})
	assert.ErrorIs(t, err, ErrCycle)
}
