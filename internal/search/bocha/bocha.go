package bocha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"stockintel/internal/fetcher"
	"stockintel/internal/httpx"
	"stockintel/internal/search"
)

// Engine talks to the Bocha web-search API, a Chinese-language search
// backend with AI summaries. Preferred for A-share news, so it is usually
// registered first.
type Engine struct {
	URL    string
	Client *httpx.Client
}

func New(hc *httpx.Client) *Engine {
	return &Engine{URL: "https://api.bocha.cn/v1/web-search", Client: hc}
}

func (e *Engine) Name() string { return "bocha" }

type request struct {
	Query     string `json:"query"`
	Freshness string `json:"freshness"`
	Summary   bool   `json:"summary"`
	Count     int    `json:"count"`
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		WebPages struct {
			Value []struct {
				Name          string `json:"name"`
				URL           string `json:"url"`
				Snippet       string `json:"snippet"`
				Summary       string `json:"summary"`
				SiteName      string `json:"siteName"`
				DatePublished string `json:"datePublished"`
			} `json:"value"`
		} `json:"webPages"`
	} `json:"data"`
}

func (e *Engine) Do(ctx context.Context, query, key string, maxResults int) ([]search.Result, error) {
	count := maxResults
	if count > 50 {
		count = 50
	}
	// Month-scale freshness catches earnings notes and filings, not just
	// same-day headlines.
	payload, err := json.Marshal(request{Query: query, Freshness: "oneMonth", Summary: true, Count: count})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return nil, fetcher.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		err := fmt.Errorf("bocha: HTTP %d: %s", resp.StatusCode, string(body))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, fetcher.Auth(err)
		case http.StatusForbidden, http.StatusTooManyRequests:
			return nil, fetcher.Quota(err)
		default:
			if resp.StatusCode >= 500 {
				return nil, fetcher.Transient(err)
			}
			return nil, err
		}
	}

	var api response
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("bocha decode: %w", err)
	}
	if api.Code != 200 {
		return nil, fmt.Errorf("bocha: code=%d msg=%q", api.Code, api.Msg)
	}

	items := api.Data.WebPages.Value
	results := make([]search.Result, 0, len(items))
	for _, it := range items {
		if len(results) >= maxResults {
			break
		}
		// Prefer the AI summary, fall back to the raw snippet.
		snippet := it.Summary
		if snippet == "" {
			snippet = it.Snippet
		}
		source := it.SiteName
		if source == "" {
			source = search.Domain(it.URL)
		}
		results = append(results, search.Result{
			Title:       it.Name,
			Snippet:     search.Truncate(snippet, 500),
			URL:         it.URL,
			Source:      source,
			PublishedAt: it.DatePublished,
		})
	}
	return results, nil
}
