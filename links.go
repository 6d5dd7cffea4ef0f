package curator

import (
	"context"
	"errors"
	"fmt"

	"github.com/docutag/curator/folders"
	"github.com/docutag/curator/health"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/tracing"
)

// ErrNoSnapshots is returned by Restore when no snapshot store is configured
var ErrNoSnapshots = errors.New("no snapshot store configured")

// CheckOptions controls a link check run
type CheckOptions struct {
	RootID   string
	Strict   bool
	Window   int
	Progress func(done, total int)
}

// Check probes every link under the root folder and stores the verdicts
func (c *Curator) Check(ctx context.Context, opts CheckOptions) (*models.CheckResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "curator.Check")
	defer span.End()

	if opts.RootID == "" {
		opts.RootID = c.config.RootID
	}
	_, root, err := c.subtree(ctx, opts.RootID)
	if err != nil {
		return nil, err
	}
	entries, err := folders.CollectEntries(root)
	if err != nil {
		return nil, err
	}

	verdicts := c.checker.CheckAll(ctx, entries, health.Options{
		Window:   opts.Window,
		Strict:   opts.Strict,
		Progress: opts.Progress,
	})

	if c.verdicts != nil && len(verdicts) > 0 {
		if err := c.verdicts.SaveVerdicts(ctx, verdicts); err != nil {
			return nil, fmt.Errorf("failed to save verdicts: %w", err)
		}
	}

	report := &models.CheckResponse{Checked: len(verdicts), Verdicts: verdicts}
	if report.Verdicts == nil {
		report.Verdicts = []models.HealthVerdict{}
	}
	for _, v := range verdicts {
		if v.Alive {
			report.Alive++
		} else {
			report.Dead++
		}
	}

	c.logger.Info("link check complete",
		"root_id", opts.RootID,
		"checked", report.Checked,
		"alive", report.Alive,
		"dead", report.Dead,
		"strict", opts.Strict,
	)
	return report, nil
}

// DeadLinks returns the stored verdicts of links found dead
func (c *Curator) DeadLinks(ctx context.Context) ([]models.HealthVerdict, error) {
	if c.verdicts == nil {
		return []models.HealthVerdict{}, nil
	}
	dead, err := c.verdicts.ListVerdicts(ctx, true)
	if err != nil {
		return nil, err
	}
	if dead == nil {
		dead = []models.HealthVerdict{}
	}
	return dead, nil
}

// Prune deletes every link with a stored dead verdict. It does nothing
// unless confirmed. Verdicts of entries that no longer exist are dropped
// without being counted.
func (c *Curator) Prune(ctx context.Context, confirmed bool) (*models.PruneResponse, error) {
	if !confirmed {
		return nil, folders.ErrConfirmationRequired
	}

	dead, err := c.DeadLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead links: %w", err)
	}
	roots, err := c.tree.GetTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree: %w", err)
	}

	report := &models.PruneResponse{}
	for _, v := range dead {
		node, err := folders.Find(roots, v.EntryID)
		if errors.Is(err, folders.ErrNotFound) {
			c.dropVerdict(ctx, v.EntryID)
			continue
		}
		if err == nil && node.IsFolder() {
			err = fmt.Errorf("%s is a folder", v.EntryID)
		}
		if err == nil {
			err = c.tree.RemoveTree(ctx, v.EntryID)
		}
		if err != nil {
			c.logger.Warn("failed to delete dead link", "entry_id", v.EntryID, "url", v.URL, "error", err)
			report.Failed++
			continue
		}
		c.dropVerdict(ctx, v.EntryID)
		report.Deleted++
	}

	c.logger.Info("pruned dead links", "deleted", report.Deleted, "failed", report.Failed)
	return report, nil
}

func (c *Curator) dropVerdict(ctx context.Context, entryID string) {
	if err := c.verdicts.DeleteVerdict(ctx, entryID); err != nil {
		c.logger.Warn("failed to delete verdict", "entry_id", entryID, "error", err)
	}
}

// Restore replays a stored snapshot onto the root folder
func (c *Curator) Restore(ctx context.Context, key, rootID string) (*folders.RestoreResult, error) {
	if c.snapshots == nil {
		return nil, ErrNoSnapshots
	}
	if rootID == "" {
		rootID = c.config.RootID
	}
	if _, _, err := c.subtree(ctx, rootID); err != nil {
		return nil, err
	}

	snapshot, err := c.snapshots.ReadSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}

	rec := folders.New(c.tree, c.logger)
	result, err := rec.Restore(ctx, folders.NewRunContext(), snapshot, rootID)
	if err != nil {
		return result, fmt.Errorf("failed to restore snapshot %s: %w", key, err)
	}
	c.logger.Info("restored snapshot",
		"key", key,
		"folders", result.Folders,
		"moved", result.Moved,
		"missing", result.Missing,
	)
	return result, nil
}
