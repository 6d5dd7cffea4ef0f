package curator

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/docutag/curator/category"
	"github.com/docutag/curator/models"
)

const untitled = "Untitled"

// entryLines renders a batch as "index. title (hostname)" lines. Indices are
// positions within the batch, which is what the model answers with.
func entryLines(entries []models.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = untitled
		}
		b.WriteString(strconv.Itoa(i))
		b.WriteString(". ")
		b.WriteString(title)
		if u, err := url.Parse(e.URL); err == nil && u.Hostname() != "" {
			b.WriteString(" (")
			b.WriteString(u.Hostname())
			b.WriteString(")")
		}
		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// classifyPrompt asks for a category -> index list object for entries
func classifyPrompt(entries []models.Entry, opts category.Options) string {
	overflow := opts.OverflowName()

	var rules strings.Builder
	if len(opts.Allowed) > 0 {
		quoted := make([]string, len(opts.Allowed))
		for i, name := range opts.Allowed {
			quoted[i] = strconv.Quote(name)
		}
		fmt.Fprintf(&rules, "\nUse only these category names, spelled exactly as given: %s. Anything that fits none of them goes in %q.", strings.Join(quoted, ", "), overflow)
	}
	if opts.MaxCategories > 0 {
		fmt.Fprintf(&rules, "\nUse at most %d categories; put everything else in %q.", opts.MaxCategories, overflow)
	}
	if opts.Flatten || opts.MaxDepth == 1 {
		rules.WriteString("\nDo not use sub-categories or slashes; return top-level categories only.")
	} else if opts.MaxDepth > 1 {
		fmt.Fprintf(&rules, "\nA sub-category may be written as \"Parent/Child\", at most %d levels deep.", opts.MaxDepth)
	}

	return fmt.Sprintf(`You are a bookmark classification assistant. Sort the bookmarks below into categories.%s

Bookmarks:
%s

Return a JSON object mapping each category name to an array of bookmark indices, for example:
{"Development": [0, 2, 5], "News": [1, 3], "Shopping": [4]}

Every index belongs to exactly one category. Return only the JSON, nothing else.`,
		rules.String(),
		entryLines(entries))
}

// importancePrompt asks for the category names ranked by importance
func importancePrompt(names []string, overflow string) string {
	var list strings.Builder
	for _, name := range names {
		list.WriteString("- ")
		list.WriteString(name)
		list.WriteByte('\n')
	}

	return fmt.Sprintf(`You are organizing bookmark folders. Order the categories below from most to least important for everyday use. Keep %q last.

Categories:
%s
Return only a JSON array of the category names in order, for example:
["Work", "Development", "News", %q]`,
		overflow,
		list.String(),
		overflow)
}
