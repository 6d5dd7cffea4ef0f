package folders

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/docutag/curator/models"
)

type memNode struct {
	id       string
	parentID string
	title    string
	url      string
	children []string
}

// MemoryTree is an in-memory Tree. It backs dry runs, where a copy of the
// stored tree is reorganized without touching the database.
type MemoryTree struct {
	mu     sync.Mutex
	nodes  map[string]*memNode
	roots  []string
	nextID int

	// MoveHook, when set, is consulted before every move and can veto it
	MoveHook func(id, parentID string) error
}

// NewMemoryTree creates a tree with a single root folder
func NewMemoryTree(rootID, rootTitle string) *MemoryTree {
	t := &MemoryTree{nodes: make(map[string]*memNode)}
	t.nodes[rootID] = &memNode{id: rootID, title: rootTitle}
	t.roots = []string{rootID}
	return t
}

// CopyTree builds a MemoryTree holding a copy of roots. Node IDs are kept.
func CopyTree(roots []*models.FolderNode) (*MemoryTree, error) {
	t := &MemoryTree{nodes: make(map[string]*memNode)}
	err := walk(roots, func(n *models.FolderNode, depth int) bool {
		t.nodes[n.ID] = &memNode{id: n.ID, parentID: n.ParentID, title: n.Title, url: n.URL}
		return true
	})
	if err != nil {
		return nil, err
	}
	err = walk(roots, func(n *models.FolderNode, depth int) bool {
		if depth == 0 {
			t.nodes[n.ID].parentID = ""
			t.roots = append(t.roots, n.ID)
		}
		for _, c := range n.Children {
			if c != nil {
				t.nodes[c.ID].parentID = n.ID
				t.nodes[n.ID].children = append(t.nodes[n.ID].children, c.ID)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *MemoryTree) newID() string {
	for {
		t.nextID++
		id := "m" + strconv.Itoa(t.nextID)
		if _, taken := t.nodes[id]; !taken {
			return id
		}
	}
}

func (t *MemoryTree) snapshot(id string, index int) *models.FolderNode {
	n := t.nodes[id]
	out := &models.FolderNode{ID: n.id, ParentID: n.parentID, Title: n.title, URL: n.url, Index: index}
	for i, c := range n.children {
		out.Children = append(out.Children, t.snapshot(c, i))
	}
	return out
}

// GetTree returns a copy of every root with its descendants
func (t *MemoryTree) GetTree(ctx context.Context) ([]*models.FolderNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*models.FolderNode, 0, len(t.roots))
	for i, id := range t.roots {
		out = append(out, t.snapshot(id, i))
	}
	return out, nil
}

// GetChildren returns copies of the direct children of parentID
func (t *MemoryTree) GetChildren(ctx context.Context, parentID string) ([]*models.FolderNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	out := make([]*models.FolderNode, 0, len(parent.children))
	for i, id := range parent.children {
		n := t.nodes[id]
		out = append(out, &models.FolderNode{ID: n.id, ParentID: n.parentID, Title: n.title, URL: n.url, Index: i})
	}
	return out, nil
}

// CreateFolder appends a new folder to parentID
func (t *MemoryTree) CreateFolder(ctx context.Context, parentID, title string) (*models.FolderNode, error) {
	return t.add(parentID, title, "")
}

// AddLink appends a new link to parentID
func (t *MemoryTree) AddLink(parentID, title, url string) (*models.FolderNode, error) {
	return t.add(parentID, title, url)
}

func (t *MemoryTree) add(parentID, title, url string) (*models.FolderNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok || parent.url != "" {
		return nil, fmt.Errorf("%w: folder %s", ErrNotFound, parentID)
	}
	n := &memNode{id: t.newID(), parentID: parentID, title: title, url: url}
	t.nodes[n.id] = n
	parent.children = append(parent.children, n.id)
	return &models.FolderNode{ID: n.id, ParentID: parentID, Title: title, URL: url, Index: len(parent.children) - 1}, nil
}

// Move places id under parentID at index, appending when index is negative
// or past the end.
func (t *MemoryTree) Move(ctx context.Context, id, parentID string, index int) error {
	if t.MoveHook != nil {
		if err := t.MoveHook(id, parentID); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	parent, ok := t.nodes[parentID]
	if !ok || parent.url != "" {
		return fmt.Errorf("%w: folder %s", ErrNotFound, parentID)
	}
	for p := parent; p != nil; p = t.nodes[p.parentID] {
		if p.id == id {
			return fmt.Errorf("cannot move %s into its own subtree", id)
		}
		if p.parentID == "" {
			break
		}
	}

	if n.parentID == "" {
		t.roots = remove(t.roots, id)
	} else if old, ok := t.nodes[n.parentID]; ok {
		old.children = remove(old.children, id)
	}

	if index < 0 || index > len(parent.children) {
		index = len(parent.children)
	}
	parent.children = append(parent.children, "")
	copy(parent.children[index+1:], parent.children[index:])
	parent.children[index] = id
	n.parentID = parentID
	return nil
}

// RemoveTree deletes id and its descendants
func (t *MemoryTree) RemoveTree(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n.parentID == "" {
		t.roots = remove(t.roots, id)
	} else if parent, ok := t.nodes[n.parentID]; ok {
		parent.children = remove(parent.children, id)
	}

	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node, ok := t.nodes[cur]; ok {
			stack = append(stack, node.children...)
			delete(t.nodes, cur)
		}
	}
	return nil
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
