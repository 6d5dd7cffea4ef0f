// Package folders applies category plans to a persisted folder tree.
package folders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docutag/curator/models"
)

// MaxDepth bounds every traversal of a stored tree
const MaxDepth = 64

// Tree is the persistence collaborator holding the folder hierarchy
type Tree interface {
	// GetTree returns every root node with its descendants
	GetTree(ctx context.Context) ([]*models.FolderNode, error)
	// GetChildren returns the direct children of parentID ordered by index
	GetChildren(ctx context.Context, parentID string) ([]*models.FolderNode, error)
	CreateFolder(ctx context.Context, parentID, title string) (*models.FolderNode, error)
	// Move places id under parentID at index; a negative index appends
	Move(ctx context.Context, id, parentID string, index int) error
	// RemoveTree deletes id and all of its descendants
	RemoveTree(ctx context.Context, id string) error
}

var (
	// ErrConfirmationRequired is returned when a destructive reset was not confirmed
	ErrConfirmationRequired = errors.New("destructive reset requires explicit confirmation")
	ErrNotFound             = errors.New("node not found")
	ErrTooDeep              = fmt.Errorf("tree deeper than %d levels", MaxDepth)
	ErrCycle                = errors.New("tree contains a cycle")
)

// PartialFailure reports entries that could not be moved during a run that
// otherwise completed.
type PartialFailure struct {
	Moved  int
	Errors []error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%d entries moved, %d failed: %v", e.Moved, len(e.Errors), errors.Join(e.Errors...))
}

func (e *PartialFailure) Unwrap() []error {
	return e.Errors
}

// ResetError reports a destructive reset that stopped before completion.
// The backup folder still holds every entry that was moved into it.
type ResetError struct {
	BackupID string
	Err      error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("reset aborted, entries preserved in backup folder %s: %v", e.BackupID, e.Err)
}

func (e *ResetError) Unwrap() error {
	return e.Err
}

// Find returns the node with id anywhere under roots
func Find(roots []*models.FolderNode, id string) (*models.FolderNode, error) {
	var found *models.FolderNode
	err := walk(roots, func(n *models.FolderNode, depth int) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

// CollectEntries returns every link under root in depth-first display order,
// skipping the subtree rooted at any id in exclude.
func CollectEntries(root *models.FolderNode, exclude ...string) ([]models.Entry, error) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	var entries []models.Entry
	err := walk(root.Children, func(n *models.FolderNode, depth int) bool {
		if skip[n.ID] {
			return false
		}
		if !n.IsFolder() {
			entries = append(entries, n.Entry())
		}
		return true
	})
	return entries, err
}

// walk visits nodes depth first in child order without recursion. visit
// returns false to skip a node's children.
func walk(roots []*models.FolderNode, visit func(n *models.FolderNode, depth int) bool) error {
	type frame struct {
		node  *models.FolderNode
		depth int
	}

	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}
	seen := make(map[*models.FolderNode]bool)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node == nil {
			continue
		}
		if seen[f.node] {
			return ErrCycle
		}
		seen[f.node] = true
		if f.depth > MaxDepth {
			return ErrTooDeep
		}

		if !visit(f.node, f.depth) {
			continue
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Children[i], f.depth + 1})
		}
	}
	return nil
}

// sameTitle compares folder titles the way lookup-or-create matches them:
// trimmed and case-insensitive, like category normalization
func sameTitle(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
