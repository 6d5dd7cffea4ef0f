package folders

import (
	"context"
	"fmt"

	"github.com/docutag/curator/models"
)

// Reorder arranges the category folders directly under rootID. Folders named
// in ranked come first in that order, followed by the remaining folders named
// in known in their current relative order. They only trade places among the
// slots known folders already occupy; every other child keeps its position.
// It returns the number of moves issued.
func (r *Reconciler) Reorder(ctx context.Context, rootID string, ranked, known []string) (int, error) {
	children, err := r.tree.GetChildren(ctx, rootID)
	if err != nil {
		return 0, fmt.Errorf("failed to list children of %s: %w", rootID, err)
	}

	isKnown := make(map[string]bool, len(known))
	for _, name := range known {
		isKnown[name] = true
	}

	var slots []int
	byTitle := make(map[string]*models.FolderNode)
	for i, c := range children {
		if c.IsFolder() && isKnown[c.Title] {
			slots = append(slots, i)
			if _, dup := byTitle[c.Title]; !dup {
				byTitle[c.Title] = c
			}
		}
	}
	if len(slots) < 2 {
		return 0, nil
	}

	placed := make(map[*models.FolderNode]bool)
	desired := make([]*models.FolderNode, 0, len(slots))
	for _, name := range ranked {
		if n, ok := byTitle[name]; ok && !placed[n] {
			desired = append(desired, n)
			placed[n] = true
		}
	}
	for _, i := range slots {
		if n := children[i]; !placed[n] {
			desired = append(desired, n)
			placed[n] = true
		}
	}

	final := make([]*models.FolderNode, len(children))
	copy(final, children)
	for k, slot := range slots {
		final[slot] = desired[k]
	}

	current := make([]*models.FolderNode, len(children))
	copy(current, children)
	moves := 0
	for i, n := range final {
		if current[i] == n {
			continue
		}
		from := indexOf(current, n)
		if err := r.tree.Move(ctx, n.ID, rootID, i); err != nil {
			return moves, fmt.Errorf("failed to move folder %q: %w", n.Title, err)
		}
		moves++
		current = append(current[:from], current[from+1:]...)
		current = append(current[:i], append([]*models.FolderNode{n}, current[i:]...)...)
	}
	return moves, nil
}

func indexOf(nodes []*models.FolderNode, n *models.FolderNode) int {
	for i, c := range nodes {
		if c == n {
			return i
		}
	}
	return -1
}
