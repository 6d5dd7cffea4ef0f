// Package curator reorganizes a bookmark tree into AI-suggested categories
// and checks its links for reachability.
package curator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docutag/curator/batch"
	"github.com/docutag/curator/category"
	"github.com/docutag/curator/classifier"
	"github.com/docutag/curator/folders"
	"github.com/docutag/curator/health"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/storage"
)

// Config contains curator configuration
type Config struct {
	RootID          string   // Folder reorganized when a run names none
	BatchSize       int      // Entries per classification prompt
	MaxCategories   int      // Default cap on top-level categories, 0 for none
	Allowed         []string // Default allow-list of top-level names
	MaxDepth        int      // Deepest category path kept
	Overflow        string   // Catch-all category name
	PromotionSubCap int      // Category cap when re-classifying overflow for promotion
}

// DefaultConfig returns default curator configuration
func DefaultConfig() Config {
	return Config{
		RootID:          "root",
		BatchSize:       batch.DefaultSize,
		MaxCategories:   10,
		MaxDepth:        category.DefaultMaxDepth,
		Overflow:        category.DefaultOverflow,
		PromotionSubCap: 3,
	}
}

// VerdictStore persists link check results
type VerdictStore interface {
	SaveVerdicts(ctx context.Context, verdicts []models.HealthVerdict) error
	ListVerdicts(ctx context.Context, deadOnly bool) ([]models.HealthVerdict, error)
	DeleteVerdict(ctx context.Context, entryID string) error
}

// Deps are the collaborators of a Curator. Tree is required; a nil
// Classifier disables Organize, a nil Snapshots skips pre-reset snapshots and
// a nil Verdicts keeps check results in memory only.
type Deps struct {
	Tree       folders.Tree
	Classifier classifier.Classifier
	Snapshots  storage.Store
	Checker    *health.Checker
	Verdicts   VerdictStore
	Logger     *slog.Logger
}

// Curator runs reorganizations and link checks against one folder tree
type Curator struct {
	config     Config
	tree       folders.Tree
	classifier classifier.Classifier
	snapshots  storage.Store
	checker    *health.Checker
	verdicts   VerdictStore
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new Curator instance
func New(config Config, deps Deps) *Curator {
	def := DefaultConfig()
	if config.RootID == "" {
		config.RootID = def.RootID
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = def.MaxDepth
	}
	if config.Overflow == "" {
		config.Overflow = def.Overflow
	}
	if config.PromotionSubCap <= 0 {
		config.PromotionSubCap = def.PromotionSubCap
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checker := deps.Checker
	if checker == nil {
		checker = health.New(health.DefaultConfig(), logger)
	}

	return &Curator{
		config:     config,
		tree:       deps.Tree,
		classifier: deps.Classifier,
		snapshots:  deps.Snapshots,
		checker:    checker,
		verdicts:   deps.Verdicts,
		logger:     logger,
		now:        time.Now,
	}
}

// Config returns the effective configuration
func (c *Curator) Config() Config {
	return c.config
}

// BatchError reports a classification batch that could not be planned.
// Batches merged before it stay in the plan.
type BatchError struct {
	Batch int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Batch, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// PlanningError reports a confirmed reset whose classification failed. Nothing
// was materialized and every entry is still in the backup folder.
type PlanningError struct {
	BackupID string
	Err      error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed, entries preserved in backup folder %s: %v", e.BackupID, e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// ErrNoClassifier is returned by Organize when no classifier is configured
var ErrNoClassifier = errors.New("no classifier configured")

// Tree returns every root node of the folder tree
func (c *Curator) Tree(ctx context.Context) ([]*models.FolderNode, error) {
	return c.tree.GetTree(ctx)
}

// subtree loads the tree and returns it together with the node rootID
func (c *Curator) subtree(ctx context.Context, rootID string) ([]*models.FolderNode, *models.FolderNode, error) {
	roots, err := c.tree.GetTree(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tree: %w", err)
	}
	root, err := folders.Find(roots, rootID)
	if err != nil {
		return nil, nil, err
	}
	if !root.IsFolder() {
		return nil, nil, fmt.Errorf("%s is a link, not a folder", rootID)
	}
	return roots, root, nil
}
