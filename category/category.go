// Package category turns raw model labels into validated category paths and
// keeps the number of top-level categories within a cap.
package category

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/docutag/curator/response"
)

const (
	// DefaultOverflow is the catch-all category name
	DefaultOverflow = "Other"
	// DefaultMaxDepth bounds the number of segments in a path
	DefaultMaxDepth = 3
)

// Path is an ordered sequence of non-empty category segments
type Path []string

// String joins the segments with "/"
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Top returns the top-level segment
func (p Path) Top() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Equal compares full joined paths
func (p Path) Equal(o Path) bool {
	return p.String() == o.String()
}

func (p Path) key() string {
	return strings.ToLower(p.String())
}

// Options controls label normalization
type Options struct {
	Allowed       []string // Permitted top-level names; empty means unrestricted
	MaxCategories int      // Cap on distinct top-level categories; <= 0 disables
	Flatten       bool     // Keep only the top-level segment
	MaxDepth      int
	Overflow      string
}

// OverflowName returns the configured overflow name or DefaultOverflow
func (o Options) OverflowName() string {
	if name := strings.TrimSpace(o.Overflow); name != "" {
		return name
	}
	return DefaultOverflow
}

func (o Options) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}

// Category is one normalized path with the batch indices assigned to it
type Category struct {
	Path    Path
	Indices []int
}

// Set is a normalized classification of one batch. Every index belongs to at
// most one category.
type Set struct {
	Categories []Category
}

// Segments folds a raw label to NFKC, splits it on path separators, trims
// each segment and drops empty ones.
func Segments(label string) []string {
	folded := norm.NFKC.String(label)
	parts := strings.FieldsFunc(folded, isSeparator)

	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.Join(strings.Fields(part), " "); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func isSeparator(r rune) bool {
	switch r {
	case '/', '\\', '∕', '⁄', '⧸', '⧹':
		return true
	}
	return false
}

// Canonical normalizes a single label into a path. Labels that normalize to
// nothing, or whose top segment is outside the allow-list, land in overflow.
func Canonical(label string, opts Options) Path {
	overflow := opts.OverflowName()
	segments := Segments(label)
	if len(segments) == 0 {
		return Path{overflow}
	}
	if len(segments) > opts.maxDepth() {
		segments = segments[:opts.maxDepth()]
	}
	if opts.Flatten {
		segments = segments[:1]
	}

	if strings.EqualFold(segments[0], overflow) {
		segments[0] = overflow
	}

	if len(opts.Allowed) > 0 && segments[0] != overflow {
		top, ok := matchAllowed(segments[0], opts.Allowed)
		if !ok {
			return Path{overflow}
		}
		segments[0] = top
	}
	return Path(segments)
}

func matchAllowed(top string, allowed []string) (string, bool) {
	for _, a := range allowed {
		name := strings.TrimSpace(norm.NFKC.String(a))
		if strings.EqualFold(name, top) {
			return name, true
		}
	}
	return "", false
}

// Normalize canonicalizes every label of an object response, discards indices
// outside [0, batchLen), merges labels with the same canonical path and, when
// only a numeric cap is configured, limits the result to MaxCategories.
// An index claimed by several labels belongs to the last one.
func Normalize(groups []response.Group, batchLen int, opts Options) *Set {
	var order []string
	paths := make(map[string]Path)
	owner := make(map[int]string)

	for _, g := range groups {
		path := Canonical(g.Label, opts)
		key := path.key()
		if _, seen := paths[key]; !seen {
			paths[key] = path
			order = append(order, key)
		}
		for _, idx := range g.Indices {
			if idx < 0 || idx >= batchLen {
				continue
			}
			owner[idx] = key
		}
	}

	members := make(map[string][]int, len(order))
	for idx, key := range owner {
		members[key] = append(members[key], idx)
	}

	set := &Set{}
	for _, key := range order {
		indices := members[key]
		if len(indices) == 0 {
			continue
		}
		sort.Ints(indices)
		set.Categories = append(set.Categories, Category{Path: paths[key], Indices: indices})
	}

	if len(opts.Allowed) == 0 && opts.MaxCategories > 0 {
		set.Limit(opts.MaxCategories, opts.OverflowName())
	}
	return set
}

// Counts returns member counts per top-level name
func (s *Set) Counts() map[string]int {
	counts := make(map[string]int)
	for _, c := range s.Categories {
		counts[c.Path.Top()] += len(c.Indices)
	}
	return counts
}

// Tops returns the distinct top-level names in first-seen order
func (s *Set) Tops() []string {
	seen := make(map[string]bool)
	var tops []string
	for _, c := range s.Categories {
		if top := c.Path.Top(); !seen[top] {
			seen[top] = true
			tops = append(tops, top)
		}
	}
	return tops
}

// Assignments maps every member index to its path
func (s *Set) Assignments() map[int]Path {
	out := make(map[int]Path)
	for _, c := range s.Categories {
		for _, idx := range c.Indices {
			out[idx] = c.Path
		}
	}
	return out
}

// Limit folds members of every top-level category that does not survive the
// cap into the overflow category.
func (s *Set) Limit(max int, overflow string) {
	keep := Select(s.Counts(), max, overflow)
	if keep == nil {
		return
	}

	var folded []int
	kept := s.Categories[:0]
	for _, c := range s.Categories {
		if keep[c.Path.Top()] {
			kept = append(kept, c)
			continue
		}
		folded = append(folded, c.Indices...)
	}
	s.Categories = kept
	if len(folded) == 0 {
		return
	}

	for i := range s.Categories {
		if len(s.Categories[i].Path) == 1 && s.Categories[i].Path.Top() == overflow {
			s.Categories[i].Indices = append(s.Categories[i].Indices, folded...)
			sort.Ints(s.Categories[i].Indices)
			return
		}
	}
	sort.Ints(folded)
	s.Categories = append(s.Categories, Category{Path: Path{overflow}, Indices: folded})
}

// Ranked orders names by descending count, breaking ties by name
func Ranked(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Select picks the top-level names that survive a cap of max categories. It
// returns nil when nothing needs to be folded. When folding is needed the
// overflow name is always among the survivors, taking the slot of the
// lowest-ranked selected name if it did not rank on its own.
func Select(counts map[string]int, max int, overflow string) map[string]bool {
	if max <= 0 || len(counts) <= max {
		return nil
	}

	ranked := Ranked(counts)
	keep := make(map[string]bool, max)
	for _, name := range ranked[:max] {
		keep[name] = true
	}
	if !keep[overflow] {
		delete(keep, ranked[max-1])
		keep[overflow] = true
	}
	return keep
}
