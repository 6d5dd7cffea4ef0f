package folders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/docutag/curator/category"
	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/plan"
)

// RunContext is the mutable state of one reconciliation run. It is owned by
// the caller and must not be shared between concurrent runs.
type RunContext struct {
	BackupID       string
	PendingDeletes []string

	children map[string][]*models.FolderNode // folder children per parent
	created  int
}

// NewRunContext creates an empty run context
func NewRunContext() *RunContext {
	return &RunContext{children: make(map[string][]*models.FolderNode)}
}

// Created returns the number of folders created during the run
func (rc *RunContext) Created() int {
	return rc.created
}

func (rc *RunContext) forget(parentID string) {
	delete(rc.children, parentID)
}

// Result summarizes a materialization
type Result struct {
	Moved int
	Paths []string // category paths that received entries, sorted
}

// Reconciler serializes every mutation of the folder tree
type Reconciler struct {
	tree   Tree
	logger *slog.Logger
}

// New creates a reconciler over tree
func New(tree Tree, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{tree: tree, logger: logger}
}

// Tree returns the underlying tree
func (r *Reconciler) Tree() Tree {
	return r.tree
}

// EnsureFolder returns the child folder of parentID titled title, creating it
// when no such sibling exists.
func (r *Reconciler) EnsureFolder(ctx context.Context, rc *RunContext, parentID, title string) (string, error) {
	children, ok := rc.children[parentID]
	if !ok {
		nodes, err := r.tree.GetChildren(ctx, parentID)
		if err != nil {
			return "", fmt.Errorf("failed to list children of %s: %w", parentID, err)
		}
		for _, n := range nodes {
			if n.IsFolder() {
				children = append(children, n)
			}
		}
		rc.children[parentID] = children
	}

	for _, c := range children {
		if sameTitle(c.Title, title) {
			return c.ID, nil
		}
	}

	node, err := r.tree.CreateFolder(ctx, parentID, title)
	if err != nil {
		return "", fmt.Errorf("failed to create folder %q: %w", title, err)
	}
	rc.children[parentID] = append(rc.children[parentID], node)
	rc.created++
	return node.ID, nil
}

// EnsurePath walks path under rootID, creating missing folders, and returns
// the ID of the deepest folder.
func (r *Reconciler) EnsurePath(ctx context.Context, rc *RunContext, rootID string, path category.Path) (string, error) {
	parentID := rootID
	for _, segment := range path {
		id, err := r.EnsureFolder(ctx, rc, parentID, segment)
		if err != nil {
			return "", err
		}
		parentID = id
	}
	return parentID, nil
}

// Materialize moves every assigned entry into its category folder under
// rootID. A failed entry is logged and skipped; when any entry failed the
// result is returned together with a *PartialFailure.
func (r *Reconciler) Materialize(ctx context.Context, rc *RunContext, assignments []plan.Assignment, rootID string) (*Result, error) {
	result := &Result{}
	used := make(map[string]bool)
	var failures []error

	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		folderID, err := r.EnsurePath(ctx, rc, rootID, a.Path)
		if err == nil {
			err = r.tree.Move(ctx, a.Entry.ID, folderID, -1)
		}
		if err != nil {
			r.logger.Warn("failed to move entry",
				"entry_id", a.Entry.ID,
				"path", a.Path.String(),
				"error", err,
			)
			metrics.MoveFailures.Inc()
			failures = append(failures, fmt.Errorf("entry %s: %w", a.Entry.ID, err))
			continue
		}

		result.Moved++
		metrics.EntriesMoved.Inc()
		used[a.Path.String()] = true
	}

	for p := range used {
		result.Paths = append(result.Paths, p)
	}
	sort.Strings(result.Paths)

	if len(failures) > 0 {
		return result, &PartialFailure{Moved: result.Moved, Errors: failures}
	}
	return result, nil
}
