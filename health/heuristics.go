package health

import (
	"net/url"
	"regexp"
	"strings"
)

// Reasons recorded on dead verdicts
const (
	ReasonStatus       = "status"
	ReasonTimeout      = "timeout"
	ReasonTransport    = "transport"
	ReasonErrorTitle   = "error_page_title"
	ReasonTitleIsURL   = "title_is_url"
	ReasonParkedDomain = "parked_domain"
)

// errorTitle matches status words only where they read as an error page:
// at the start of the title, after "error" or "http", or followed by
// "not found". A number inside an article title is not enough.
var errorTitle = regexp.MustCompile(`(?i)^\s*(error\s*)?40[34]\b|\b(error|http)\s*40[34]\b|\b404\s*[-:|]?\s*(page\s+)?not\s+found\b|^\s*(page\s+)?not\s+found\b|\bpage\s+(not\s+found|does\s+not\s+exist|doesn'?t\s+exist)\b`)

// softFailurePhrases are page titles served with a success status by sites
// that have removed the content or lost the domain. Matched as substrings of
// the lowercased title.
var softFailurePhrases = []struct {
	phrases []string
	reason  string
}{
	{
		phrases: []string{"no longer available", "content unavailable", "页面不存在", "找不到页面", "页面未找到"},
		reason:  ReasonErrorTitle,
	},
	{
		phrases: []string{"site can't be reached", "server not found", "account suspended", "website is unavailable", "410 gone", "internal server error", "503 service"},
		reason:  ReasonErrorTitle,
	},
	{
		phrases: []string{"domain for sale", "this domain is for sale", "buy this domain", "domain is parked", "parked free", "domain expired"},
		reason:  ReasonParkedDomain,
	},
}

// softFailure inspects a page title and reports the reason it indicates a
// dead link, or "" when it looks like real content.
func softFailure(requestURL, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	if sameURL(requestURL, title) {
		return ReasonTitleIsURL
	}
	if errorTitle.MatchString(title) {
		return ReasonErrorTitle
	}

	lower := strings.ToLower(title)
	for _, group := range softFailurePhrases {
		for _, p := range group.phrases {
			if strings.Contains(lower, p) {
				return group.reason
			}
		}
	}
	return ""
}

// sameURL compares a title against the request URL ignoring a trailing slash
func sameURL(requestURL, title string) bool {
	if title == requestURL {
		return true
	}
	a, errA := url.Parse(requestURL)
	b, errB := url.Parse(title)
	if errA != nil || errB != nil || b.Host == "" {
		return false
	}
	return strings.EqualFold(a.Host, b.Host) &&
		strings.TrimRight(a.Path, "/") == strings.TrimRight(b.Path, "/") &&
		a.RawQuery == b.RawQuery
}
