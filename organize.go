package curator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/docutag/curator/batch"
	"github.com/docutag/curator/category"
	"github.com/docutag/curator/folders"
	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/plan"
	"github.com/docutag/curator/response"
	"github.com/docutag/curator/tracing"
)

// Options controls a single reorganization run. Zero values of RootID,
// Allowed and MaxCategories fall back to the Config defaults.
type Options struct {
	RootID        string
	Allowed       []string
	MaxCategories int
	Flatten       bool
	Promote       bool // Lift the largest overflow sub-category to top level
	Review        bool // Re-classify overflow against the planned categories
	Reorder       bool // Rank top-level folders by importance
	Reset         bool // Empty the root folder before materializing
	Confirm       bool // Required with Reset
	DryRun        bool // Work on an in-memory copy of the tree

	Progress func(done, total int) // Called after every batch
}

// OptionsFromRequest converts an API request into run options
func OptionsFromRequest(req models.OrganizeRequest) Options {
	return Options{
		RootID:        req.RootID,
		Allowed:       req.Allowed,
		MaxCategories: req.MaxCategories,
		Flatten:       req.Flatten,
		Promote:       req.Promote,
		Review:        req.Review,
		Reorder:       req.Reorder,
		Reset:         req.Reset,
		Confirm:       req.Confirm,
		DryRun:        req.DryRun,
	}
}

func (c *Curator) categoryOptions(opts Options) category.Options {
	return category.Options{
		Allowed:       opts.Allowed,
		MaxCategories: opts.MaxCategories,
		Flatten:       opts.Flatten,
		MaxDepth:      c.config.MaxDepth,
		Overflow:      c.config.Overflow,
	}
}

// Organize classifies every link under the root folder and moves it into a
// category folder. Batches are classified one at a time; a batch that fails
// stops planning. Without Reset what was planned before it is still
// materialized. With Reset the root folder is emptied into a backup folder
// first, and a failed batch returns a *PlanningError before anything is moved
// out of it.
func (c *Curator) Organize(ctx context.Context, opts Options) (*models.OrganizeResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "curator.Organize")
	defer span.End()

	if c.classifier == nil {
		return nil, ErrNoClassifier
	}
	if opts.RootID == "" {
		opts.RootID = c.config.RootID
	}
	if len(opts.Allowed) == 0 {
		opts.Allowed = c.config.Allowed
	}
	if opts.MaxCategories == 0 {
		opts.MaxCategories = c.config.MaxCategories
	}
	if opts.Reset && !opts.Confirm {
		return nil, folders.ErrConfirmationRequired
	}
	overflow := c.config.Overflow
	span.SetAttributes(
		attribute.String("root_id", opts.RootID),
		attribute.Bool("reset", opts.Reset),
		attribute.Bool("dry_run", opts.DryRun),
	)

	roots, root, err := c.subtree(ctx, opts.RootID)
	if err != nil {
		return nil, err
	}

	report := &models.OrganizeResponse{DryRun: opts.DryRun, Categories: []string{}}
	tree := c.tree
	if opts.DryRun {
		mem, err := folders.CopyTree(roots)
		if err != nil {
			return nil, fmt.Errorf("failed to copy tree: %w", err)
		}
		tree = mem
	}
	rec := folders.New(tree, c.logger)
	rc := folders.NewRunContext()

	var entries []models.Entry
	if opts.Reset {
		if c.snapshots != nil && !opts.DryRun {
			key, err := c.snapshots.SaveSnapshot(ctx, root.Title, root)
			if err != nil {
				return nil, fmt.Errorf("failed to snapshot tree before reset: %w", err)
			}
			report.SnapshotKey = key
			c.logger.Info("saved tree snapshot", "key", key)
		}

		entries, err = rec.PrepareReset(ctx, rc, opts.RootID, opts.Confirm)
		report.BackupID = rc.BackupID
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
	} else {
		entries, err = folders.CollectEntries(root)
		if err != nil {
			return nil, err
		}
	}

	p, batchErr := c.plan(ctx, entries, opts, report)
	if batchErr != nil {
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, batchErr.Error())
		// A reset run either completes or leaves the backup whole
		if opts.Reset {
			return report, &PlanningError{BackupID: rc.BackupID, Err: batchErr}
		}
		if p.Len() == 0 {
			return report, batchErr
		}
	}

	if len(opts.Allowed) == 0 && opts.MaxCategories > 0 {
		if evicted := p.Limit(opts.MaxCategories); len(evicted) > 0 {
			c.logger.Info("folded categories into overflow", "categories", evicted, "overflow", overflow)
		}
	}

	if batchErr == nil && opts.Promote {
		c.promote(ctx, p, opts, report)
	}
	if batchErr == nil && opts.Review {
		c.review(ctx, p, opts, report)
	}

	result, err := rec.Materialize(ctx, rc, p.Assignments(), opts.RootID)
	var partial *folders.PartialFailure
	switch {
	case errors.As(err, &partial):
		report.Failed = len(partial.Errors)
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d entries could not be moved", report.Failed))
	case err != nil:
		return report, err
	}
	report.Moved = result.Moved
	report.Categories = append(report.Categories, p.Categories()...)

	if opts.Reset {
		swept, removed, err := rec.Finish(ctx, rc, opts.RootID, overflow)
		report.Swept = swept
		if err != nil {
			return report, err
		}
		if removed {
			report.BackupID = ""
		}
	}

	if batchErr == nil && opts.Reorder {
		c.reorder(ctx, rec, p, opts, report)
	}

	if opts.DryRun {
		if mem, err := tree.GetTree(ctx); err == nil {
			report.Tree, _ = folders.Find(mem, opts.RootID)
		}
	}

	c.logger.Info("organize complete",
		"root_id", opts.RootID,
		"moved", report.Moved,
		"failed", report.Failed,
		"categories", len(report.Categories),
		"batches", report.Batches,
		"dry_run", opts.DryRun,
	)
	if batchErr != nil {
		return report, batchErr
	}
	return report, nil
}

// plan classifies entries batch by batch. Entries of a classified batch the
// model left out are assigned to overflow. A failed batch stops the loop and
// is returned as a *BatchError together with the plan built so far.
func (c *Curator) plan(ctx context.Context, entries []models.Entry, opts Options, report *models.OrganizeResponse) (*plan.Plan, error) {
	overflow := c.config.Overflow
	catOpts := c.categoryOptions(opts)
	p := plan.New(overflow)

	batches := batch.Split(entries, c.config.BatchSize)
	report.Batches = len(batches)
	for i, b := range batches {
		set, err := c.classify(ctx, b, catOpts)
		if err != nil {
			outcome := "error"
			var parseErr *response.ParseError
			if errors.As(err, &parseErr) {
				outcome = "parse_error"
			}
			metrics.Batches.WithLabelValues(outcome).Inc()
			c.logger.Error("batch classification failed", "batch", i, "size", len(b), "error", err)
			failed := i
			report.FailedBatch = &failed
			return p, &BatchError{Batch: i, Err: err}
		}

		assigned := p.Merge(b, set)
		for _, e := range b {
			if _, ok := p.Path(e.ID); !ok {
				p.Assign(e, category.Path{overflow})
			}
		}
		metrics.Batches.WithLabelValues("ok").Inc()
		c.logger.Debug("batch classified", "batch", i, "size", len(b), "assigned", assigned, "categories", len(set.Categories))

		if opts.Progress != nil {
			opts.Progress(i+1, len(batches))
		}
	}
	return p, nil
}

// classify runs one prompt for entries and normalizes the answer
func (c *Curator) classify(ctx context.Context, entries []models.Entry, opts category.Options) (*category.Set, error) {
	raw, err := c.classifier.Classify(ctx, classifyPrompt(entries, opts))
	if err != nil {
		return nil, err
	}
	v, err := response.Parse(raw)
	if err != nil {
		return nil, err
	}
	if v.Kind != response.KindObject {
		return nil, &response.ParseError{Reason: fmt.Sprintf("expected an object of index lists, got %s", v.Kind)}
	}
	return category.Normalize(v.Groups, len(entries), opts), nil
}

// classifyAll classifies members in batches and combines the results into a
// single set indexed by position in members.
func (c *Curator) classifyAll(ctx context.Context, members []models.Entry, opts category.Options) (*category.Set, error) {
	combined := &category.Set{}
	index := make(map[string]int)

	offset := 0
	for _, b := range batch.Split(members, c.config.BatchSize) {
		set, err := c.classify(ctx, b, opts)
		if err != nil {
			return nil, err
		}
		for _, cat := range set.Categories {
			key := strings.ToLower(cat.Path.String())
			i, ok := index[key]
			if !ok {
				i = len(combined.Categories)
				index[key] = i
				combined.Categories = append(combined.Categories, category.Category{Path: cat.Path})
			}
			for _, idx := range cat.Indices {
				combined.Categories[i].Indices = append(combined.Categories[i].Indices, idx+offset)
			}
		}
		offset += len(b)
	}

	if len(opts.Allowed) == 0 && opts.MaxCategories > 0 {
		combined.Limit(opts.MaxCategories, opts.OverflowName())
	}
	return combined, nil
}

// promote re-classifies overflow with a small flat cap and lifts the largest
// resulting category when it beats the smallest planned one
func (c *Curator) promote(ctx context.Context, p *plan.Plan, opts Options, report *models.OrganizeResponse) {
	if len(opts.Allowed) > 0 {
		report.Warnings = append(report.Warnings, "promotion skipped: an allow-list is configured")
		return
	}
	members := p.OverflowEntries()
	if len(members) == 0 {
		return
	}

	set, err := c.classifyAll(ctx, members, category.Options{
		MaxCategories: c.config.PromotionSubCap,
		Flatten:       true,
		MaxDepth:      1,
		Overflow:      c.config.Overflow,
	})
	if err != nil {
		c.logger.Warn("promotion classification failed", "error", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("promotion skipped: %v", err))
		return
	}

	promo, ok := p.Promote(members, set, opts.MaxCategories)
	if !ok {
		c.logger.Info("no overflow category promoted", "overflow", len(members))
		return
	}
	report.Promoted = promo.Name
	report.Evicted = promo.Evicted
	c.logger.Info("promoted overflow category",
		"category", promo.Name,
		"members", promo.Members,
		"evicted", promo.Evicted,
	)
}

// review gives overflow entries one more chance at the planned categories
func (c *Curator) review(ctx context.Context, p *plan.Plan, opts Options, report *models.OrganizeResponse) {
	members := p.OverflowEntries()
	if len(members) == 0 {
		return
	}
	var names []string
	for _, name := range p.Categories() {
		if name != p.Overflow() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}

	set, err := c.classifyAll(ctx, members, category.Options{
		Allowed:  names,
		Flatten:  opts.Flatten,
		MaxDepth: c.config.MaxDepth,
		Overflow: c.config.Overflow,
	})
	if err != nil {
		c.logger.Warn("review classification failed", "error", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("review skipped: %v", err))
		return
	}

	report.Reviewed = p.ApplyReview(members, set)
	c.logger.Info("reviewed overflow entries", "candidates", len(members), "reassigned", report.Reviewed)
}

// reorder asks for an importance ranking of the planned categories and
// applies it to the top-level folders
func (c *Curator) reorder(ctx context.Context, rec *folders.Reconciler, p *plan.Plan, opts Options, report *models.OrganizeResponse) {
	names := p.Categories()
	if len(names) < 2 {
		return
	}

	ranked, err := c.rank(ctx, names)
	if err != nil {
		c.logger.Warn("importance ranking failed", "error", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("reorder skipped: %v", err))
		return
	}

	moves, err := rec.Reorder(ctx, opts.RootID, ranked, names)
	report.Reordered = moves
	if err != nil {
		c.logger.Warn("reorder failed", "error", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("reorder incomplete: %v", err))
	}
}

// rank returns names ordered by the model's importance answer. Unknown names
// in the answer are dropped and matching is case-insensitive.
func (c *Curator) rank(ctx context.Context, names []string) ([]string, error) {
	raw, err := c.classifier.Classify(ctx, importancePrompt(names, c.config.Overflow))
	if err != nil {
		return nil, err
	}
	v, err := response.Parse(raw)
	if err != nil {
		return nil, err
	}
	if v.Kind != response.KindArray {
		return nil, &response.ParseError{Reason: fmt.Sprintf("expected an array of names, got %s", v.Kind)}
	}

	canonical := make(map[string]string, len(names))
	for _, name := range names {
		canonical[strings.ToLower(name)] = name
	}
	seen := make(map[string]bool)
	var ranked []string
	for _, item := range v.Items {
		name, ok := canonical[strings.ToLower(strings.TrimSpace(item))]
		if ok && !seen[name] {
			seen[name] = true
			ranked = append(ranked, name)
		}
	}
	return ranked, nil
}
