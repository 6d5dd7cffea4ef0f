package folders

import (
	"context"
	"fmt"
	"time"

	"github.com/docutag/curator/category"
	"github.com/docutag/curator/models"
)

// BackupTitle names the folder that holds entries during a destructive reset
func BackupTitle(now time.Time) string {
	return "Backup " + now.Format("2006-01-02 15:04:05")
}

// PrepareReset empties rootID for a fresh reorganization. It creates a backup
// folder, moves every link under rootID into it and then deletes every other
// child of rootID. Nothing is touched unless confirmed is true. Any failure
// after the backup exists is returned as a *ResetError naming it.
func (r *Reconciler) PrepareReset(ctx context.Context, rc *RunContext, rootID string, confirmed bool) ([]models.Entry, error) {
	if !confirmed {
		return nil, ErrConfirmationRequired
	}

	roots, err := r.tree.GetTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree: %w", err)
	}
	root, err := Find(roots, rootID)
	if err != nil {
		return nil, err
	}
	entries, err := CollectEntries(root)
	if err != nil {
		return nil, err
	}

	backup, err := r.tree.CreateFolder(ctx, rootID, BackupTitle(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create backup folder: %w", err)
	}
	rc.BackupID = backup.ID
	r.logger.Info("created backup folder", "backup_id", backup.ID, "entries", len(entries))

	for i, e := range entries {
		if err := r.tree.Move(ctx, e.ID, backup.ID, -1); err != nil {
			return nil, &ResetError{BackupID: backup.ID, Err: fmt.Errorf("failed to back up entry %s: %w", e.ID, err)}
		}
		entries[i].ParentID = backup.ID
	}

	children, err := r.tree.GetChildren(ctx, rootID)
	if err != nil {
		return nil, &ResetError{BackupID: backup.ID, Err: err}
	}
	rc.PendingDeletes = rc.PendingDeletes[:0]
	for _, c := range children {
		if c.ID != backup.ID {
			rc.PendingDeletes = append(rc.PendingDeletes, c.ID)
		}
	}
	for len(rc.PendingDeletes) > 0 {
		id := rc.PendingDeletes[0]
		if err := r.tree.RemoveTree(ctx, id); err != nil {
			return nil, &ResetError{BackupID: backup.ID, Err: fmt.Errorf("failed to remove %s: %w", id, err)}
		}
		rc.PendingDeletes = rc.PendingDeletes[1:]
	}

	rc.forget(rootID)
	return entries, nil
}

// Finish completes a destructive reset. Links still in the backup folder are
// swept into the overflow category under rootID and the backup is deleted
// once empty. It reports the number of swept entries and whether the backup
// was removed; a kept backup stays in rc.BackupID.
func (r *Reconciler) Finish(ctx context.Context, rc *RunContext, rootID, overflow string) (int, bool, error) {
	if rc.BackupID == "" {
		return 0, false, nil
	}

	leftovers, err := r.tree.GetChildren(ctx, rc.BackupID)
	if err != nil {
		return 0, false, &ResetError{BackupID: rc.BackupID, Err: err}
	}

	swept := 0
	var overflowID string
	for _, n := range leftovers {
		if n.IsFolder() {
			continue
		}
		if overflowID == "" {
			overflowID, err = r.EnsurePath(ctx, rc, rootID, category.Path{overflow})
			if err != nil {
				return swept, false, &ResetError{BackupID: rc.BackupID, Err: err}
			}
		}
		if err := r.tree.Move(ctx, n.ID, overflowID, -1); err != nil {
			r.logger.Warn("failed to sweep entry from backup", "entry_id", n.ID, "error", err)
			continue
		}
		swept++
	}

	remaining, err := r.tree.GetChildren(ctx, rc.BackupID)
	if err != nil {
		return swept, false, &ResetError{BackupID: rc.BackupID, Err: err}
	}
	if len(remaining) > 0 {
		r.logger.Warn("backup folder kept, it still holds entries",
			"backup_id", rc.BackupID,
			"remaining", len(remaining),
		)
		return swept, false, nil
	}

	if err := r.tree.RemoveTree(ctx, rc.BackupID); err != nil {
		return swept, false, &ResetError{BackupID: rc.BackupID, Err: err}
	}
	r.logger.Info("removed empty backup folder", "backup_id", rc.BackupID)
	rc.BackupID = ""
	return swept, true, nil
}
