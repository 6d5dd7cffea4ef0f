// Package plan accumulates category assignments across batches and enforces
// the global category cap.
package plan

import (
	"sort"
	"strings"

	"github.com/docutag/curator/category"
	"github.com/docutag/curator/models"
)

// Assignment places one entry under a category path
type Assignment struct {
	Entry models.Entry
	Path  category.Path
}

// Promotion describes an overflow sub-category lifted to top level
type Promotion struct {
	Name    string
	Members int
	Evicted string // Category folded into overflow to make room, if any
}

// Plan is the entry to category mapping built incrementally across batches.
// It is not safe for concurrent use; batches are merged sequentially.
type Plan struct {
	overflow string
	entries  []models.Entry
	position map[string]int
	paths    map[string]category.Path
	// lowercased path prefix to the first spelling seen for its last segment
	spellings map[string]string
}

// New creates an empty plan using overflow as the catch-all name
func New(overflow string) *Plan {
	if overflow == "" {
		overflow = category.DefaultOverflow
	}
	return &Plan{
		overflow:  overflow,
		position:  make(map[string]int),
		paths:     make(map[string]category.Path),
		spellings: map[string]string{"/" + strings.ToLower(overflow): overflow},
	}
}

// Overflow returns the catch-all category name
func (p *Plan) Overflow() string {
	return p.overflow
}

// canonical rewrites each segment of path to the spelling that first reached
// the same case-insensitive prefix, so batches answering "Tech" and "tech"
// share one category.
func (p *Plan) canonical(path category.Path) category.Path {
	out := make(category.Path, len(path))
	var prefix strings.Builder
	for i, segment := range path {
		prefix.WriteByte('/')
		prefix.WriteString(strings.ToLower(segment))
		key := prefix.String()
		if first, ok := p.spellings[key]; ok {
			out[i] = first
			continue
		}
		p.spellings[key] = segment
		out[i] = segment
	}
	return out
}

func (p *Plan) track(e models.Entry) {
	if _, ok := p.position[e.ID]; ok {
		return
	}
	p.position[e.ID] = len(p.entries)
	p.entries = append(p.entries, e)
}

// Merge records a normalized batch. Set indices refer to positions in batch.
// Later merges overwrite earlier assignments of the same entry. Category names
// are matched case-insensitively against earlier batches.
func (p *Plan) Merge(batch []models.Entry, set *category.Set) int {
	for _, e := range batch {
		p.track(e)
	}
	assigned := 0
	for idx, path := range set.Assignments() {
		if idx < 0 || idx >= len(batch) {
			continue
		}
		p.paths[batch[idx].ID] = p.canonical(path)
		assigned++
	}
	return assigned
}

// Assign sets the path of a single entry
func (p *Plan) Assign(e models.Entry, path category.Path) {
	p.track(e)
	p.paths[e.ID] = p.canonical(path)
}

// Path returns the assigned path of an entry
func (p *Plan) Path(entryID string) (category.Path, bool) {
	path, ok := p.paths[entryID]
	return path, ok
}

// Len returns the number of assigned entries
func (p *Plan) Len() int {
	return len(p.paths)
}

// Entries returns every entry seen by the plan in input order
func (p *Plan) Entries() []models.Entry {
	return p.entries
}

// Assignments returns assigned entries in input order
func (p *Plan) Assignments() []Assignment {
	out := make([]Assignment, 0, len(p.paths))
	for _, e := range p.entries {
		if path, ok := p.paths[e.ID]; ok {
			out = append(out, Assignment{Entry: e, Path: path})
		}
	}
	return out
}

// Unassigned returns entries that no batch classified
func (p *Plan) Unassigned() []models.Entry {
	var out []models.Entry
	for _, e := range p.entries {
		if _, ok := p.paths[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns assigned entries per top-level category
func (p *Plan) Counts() map[string]int {
	counts := make(map[string]int)
	for _, path := range p.paths {
		counts[path.Top()]++
	}
	return counts
}

// Categories returns the top-level names ranked by size
func (p *Plan) Categories() []string {
	return category.Ranked(p.Counts())
}

// Paths returns every distinct full path in use, sorted
func (p *Plan) Paths() []string {
	seen := make(map[string]bool)
	for _, path := range p.paths {
		seen[path.String()] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OverflowEntries returns entries currently assigned to the overflow category
func (p *Plan) OverflowEntries() []models.Entry {
	var out []models.Entry
	for _, e := range p.entries {
		if path, ok := p.paths[e.ID]; ok && path.Top() == p.overflow {
			out = append(out, e)
		}
	}
	return out
}

// Limit enforces a global cap of max top-level categories and returns the
// names folded into overflow.
func (p *Plan) Limit(max int) []string {
	keep := category.Select(p.Counts(), max, p.overflow)
	if keep == nil {
		return nil
	}

	evicted := make(map[string]bool)
	for id, path := range p.paths {
		if top := path.Top(); !keep[top] {
			evicted[top] = true
			p.paths[id] = category.Path{p.overflow}
		}
	}

	names := make([]string, 0, len(evicted))
	for name := range evicted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Promote lifts the largest candidate sub-category to top level. candidates
// is a normalized classification of members, which must be the current
// overflow entries in order. The candidate is promoted only when it is larger
// than the smallest non-overflow category; when the cap would be exceeded that
// smallest category is folded into overflow. It reports false when nothing was
// promoted.
func (p *Plan) Promote(members []models.Entry, candidates *category.Set, max int) (Promotion, bool) {
	var name string
	for _, top := range category.Ranked(candidates.Counts()) {
		if !strings.EqualFold(top, p.overflow) {
			name = top
			break
		}
	}
	if name == "" {
		return Promotion{}, false
	}

	var lifted []models.Entry
	for idx, path := range candidates.Assignments() {
		if path.Top() == name && idx >= 0 && idx < len(members) {
			lifted = append(lifted, members[idx])
		}
	}

	counts := p.Counts()
	for existing := range counts {
		if existing != p.overflow && strings.EqualFold(existing, name) {
			for _, e := range lifted {
				p.paths[e.ID] = category.Path{existing}
			}
			return Promotion{Name: existing, Members: len(lifted)}, true
		}
	}

	smallest, smallestCount := p.smallest(counts)
	if len(lifted) <= smallestCount {
		return Promotion{}, false
	}

	total := len(counts) + 1
	if n, ok := counts[p.overflow]; ok && n <= len(lifted) {
		total-- // overflow empties out
	}

	promo := Promotion{Name: name, Members: len(lifted)}
	if max > 0 && total > max {
		if smallest == "" {
			return Promotion{}, false
		}
		for id, path := range p.paths {
			if path.Top() == smallest {
				p.paths[id] = category.Path{p.overflow}
			}
		}
		promo.Evicted = smallest
	}

	for _, e := range lifted {
		p.paths[e.ID] = p.canonical(category.Path{name})
	}
	return promo, true
}

// smallest returns the lowest-ranked non-overflow category and its size, or
// an empty name and zero when only overflow exists.
func (p *Plan) smallest(counts map[string]int) (string, int) {
	ranked := category.Ranked(counts)
	for i := len(ranked) - 1; i >= 0; i-- {
		if ranked[i] != p.overflow {
			return ranked[i], counts[ranked[i]]
		}
	}
	return "", 0
}

// ApplyReview assigns reviewed overflow entries directly. Members of the
// overflow category in the review result keep their current assignment.
func (p *Plan) ApplyReview(members []models.Entry, reviewed *category.Set) int {
	moved := 0
	for idx, path := range reviewed.Assignments() {
		if idx < 0 || idx >= len(members) || path.Top() == p.overflow {
			continue
		}
		p.paths[members[idx].ID] = p.canonical(path)
		moved++
	}
	return moved
}
