package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Result is one normalized search hit.
type Result struct {
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Text renders the result as one block for report output.
func (r Result) Text() string {
	date := ""
	if r.PublishedAt != "" {
		date = " (" + r.PublishedAt + ")"
	}
	return fmt.Sprintf("【%s】%s%s\n%s", r.Source, r.Title, date, r.Snippet)
}

// Response is the outcome of one search call. Success=false implies Results
// is empty; Results are truncated to the caller-requested maximum.
type Response struct {
	Query      string        `json:"query"`
	Results    []Result      `json:"results"`
	Provider   string        `json:"provider"`
	Success    bool          `json:"success"`
	ErrMessage string        `json:"error_message,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Context renders up to max results as plain text for downstream analysis.
func (r Response) Context(max int) string {
	if !r.Success || len(r.Results) == 0 {
		return fmt.Sprintf("搜索 %q 未找到相关结果。", r.Query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "【%s 搜索结果】（来源：%s）", r.Query, r.Provider)
	for i, res := range r.Results {
		if i >= max {
			break
		}
		fmt.Fprintf(&b, "\n\n%d. %s", i+1, res.Text())
	}
	return b.String()
}

// Provider is one search backend with its own credentials and health
// tracking.
type Provider interface {
	Name() string
	// Available is false when no credential is configured.
	Available() bool
	// Search never returns an error: failures come back as a Response
	// with Success=false so the service can decide continue-vs-stop
	// uniformly.
	Search(ctx context.Context, query string, maxResults int) Response
}

// Domain extracts the host of a URL for use as a result source.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "未知来源"
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// Truncate clips s to at most n bytes on a rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for i := n; i > 0; i-- {
		if s[i]&0xc0 != 0x80 {
			return s[:i]
		}
	}
	return ""
}
