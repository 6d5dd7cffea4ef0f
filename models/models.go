package models

import "time"

// Entry is a single link item. Entries are owned by the tree store and
// referenced by ID everywhere else.
type Entry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// FolderNode is a node of the persisted tree. A node without a URL is a folder.
type FolderNode struct {
	ID       string        `json:"id"`
	ParentID string        `json:"parent_id,omitempty"`
	Title    string        `json:"title"`
	URL      string        `json:"url,omitempty"`
	Index    int           `json:"index"`
	Children []*FolderNode `json:"children,omitempty"`
}

// IsFolder reports whether the node is a folder rather than a link
func (n *FolderNode) IsFolder() bool {
	return n.URL == ""
}

// Entry converts a link node to an Entry
func (n *FolderNode) Entry() Entry {
	return Entry{ID: n.ID, Title: n.Title, URL: n.URL, ParentID: n.ParentID}
}

// HealthVerdict is the reachability classification of one entry
type HealthVerdict struct {
	EntryID   string    `json:"entry_id"`
	URL       string    `json:"url"`
	Alive     bool      `json:"alive"`
	Status    int       `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Reason    string    `json:"reason,omitempty"` // Heuristic that marked the link dead, if any
	CheckedAt time.Time `json:"checked_at"`
}

// OllamaRequest represents a request to the Ollama generate API
type OllamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// OllamaResponse represents a response from the Ollama generate API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
}

// ChatMessage is one message of a chat completion exchange
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents an OpenAI-compatible chat completion request
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// ChatResponse represents an OpenAI-compatible chat completion response
type ChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OrganizeRequest represents a request to reorganize the tree
type OrganizeRequest struct {
	RootID        string   `json:"root_id,omitempty"`
	Allowed       []string `json:"allowed,omitempty"`
	MaxCategories int      `json:"max_categories,omitempty"`
	Flatten       bool     `json:"flatten"`
	Promote       bool     `json:"promote"`
	Review        bool     `json:"review"`
	Reorder       bool     `json:"reorder"`
	Reset         bool     `json:"reset"`   // Destructive reset of the managed tree
	Confirm       bool     `json:"confirm"` // Required with Reset
	DryRun        bool     `json:"dry_run"` // Plan against a copy of the tree
}

// OrganizeResponse summarizes a reorganization run
type OrganizeResponse struct {
	Moved       int      `json:"moved"`
	Failed      int      `json:"failed"`
	Categories  []string `json:"categories"`
	Batches     int      `json:"batches"`
	FailedBatch *int     `json:"failed_batch,omitempty"`
	BackupID    string   `json:"backup_id,omitempty"`
	SnapshotKey string   `json:"snapshot_key,omitempty"`
	Promoted    string   `json:"promoted,omitempty"`
	Evicted     string   `json:"evicted,omitempty"`
	Reviewed    int      `json:"reviewed,omitempty"`
	Reordered   int      `json:"reordered,omitempty"`
	Swept       int      `json:"swept,omitempty"` // Leftovers moved from the backup into overflow
	DryRun      bool     `json:"dry_run,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`

	Tree *FolderNode `json:"tree,omitempty"` // Resulting subtree of a dry run
}

// CheckRequest represents a request to probe links
type CheckRequest struct {
	RootID string `json:"root_id,omitempty"`
	Strict bool   `json:"strict"`
	Window int    `json:"window,omitempty"`
}

// CheckResponse summarizes a link check run
type CheckResponse struct {
	Checked  int             `json:"checked"`
	Alive    int             `json:"alive"`
	Dead     int             `json:"dead"`
	Verdicts []HealthVerdict `json:"verdicts"`
}

// PruneResponse summarizes deletion of dead links
type PruneResponse struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// RestoreRequest represents a request to replay a stored snapshot
type RestoreRequest struct {
	SnapshotKey string `json:"snapshot_key"`
	RootID      string `json:"root_id,omitempty"`
}
