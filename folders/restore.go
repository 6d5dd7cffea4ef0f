package folders

import (
	"context"

	"github.com/docutag/curator/models"
)

// RestoreResult summarizes replaying a snapshot
type RestoreResult struct {
	Folders int `json:"folders"` // folders reused or created
	Moved   int `json:"moved"`
	Missing int `json:"missing"` // links in the snapshot that could not be moved back
}

// Restore replays snapshot, a copy of the subtree rooted at rootID, onto the
// live tree: folders are looked up or created by title and surviving links are
// moved back under them in snapshot order.
func (r *Reconciler) Restore(ctx context.Context, rc *RunContext, snapshot *models.FolderNode, rootID string) (*RestoreResult, error) {
	type frame struct {
		node     *models.FolderNode
		targetID string
		depth    int
	}

	result := &RestoreResult{}
	stack := []frame{{node: snapshot, targetID: rootID}}
	seen := make(map[*models.FolderNode]bool)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[f.node] {
			return result, ErrCycle
		}
		seen[f.node] = true
		if f.depth > MaxDepth {
			return result, ErrTooDeep
		}

		// Folders are created in order before descending so siblings keep
		// their snapshot order; the stack is filled in reverse.
		var next []frame
		for _, child := range f.node.Children {
			if child == nil {
				continue
			}
			if !child.IsFolder() {
				if err := r.tree.Move(ctx, child.ID, f.targetID, -1); err != nil {
					r.logger.Warn("snapshot entry not restored", "entry_id", child.ID, "error", err)
					result.Missing++
					continue
				}
				result.Moved++
				continue
			}

			id, err := r.EnsureFolder(ctx, rc, f.targetID, child.Title)
			if err != nil {
				return result, err
			}
			result.Folders++
			next = append(next, frame{node: child, targetID: id, depth: f.depth + 1})
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return result, nil
}
