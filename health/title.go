package health

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// pageTitles holds the title candidates of one document, first occurrence each
type pageTitles struct {
	element string // <title>
	og      string
	twitter string
	heading string // first <h1>
}

func scanTitles(root *html.Node) pageTitles {
	var t pageTitles
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				setOnce(&t.element, textOf(n))
			case atom.H1:
				setOnce(&t.heading, textOf(n))
			case atom.Meta:
				content := strings.TrimSpace(attr(n, "content"))
				if strings.EqualFold(attr(n, "property"), "og:title") {
					setOnce(&t.og, content)
				} else if strings.EqualFold(attr(n, "name"), "twitter:title") {
					setOnce(&t.twitter, content)
				}
			}
		}
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return t
}

// best prefers the <title> element because error pages rewrite it while
// leaving social tags and headings from the site template.
func (t pageTitles) best() string {
	for _, s := range []string{t.element, t.og, t.twitter, t.heading} {
		if s != "" {
			return s
		}
	}
	return ""
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textOf joins the trimmed text nodes below n with single spaces
func textOf(n *html.Node) string {
	var parts []string
	stack := []*html.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.Type == html.TextNode {
			if s := strings.TrimSpace(cur.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := cur.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return strings.Join(parts, " ")
}
