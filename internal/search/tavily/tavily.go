package tavily

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

// Engine talks to the Tavily search API. English-leaning index, so it serves
// as the second choice after bocha for A-share coverage.
type Engine struct {
	URL    string
	Client *httpx.Client
}

func New(hc *httpx.Client) *Engine {
	return &Engine{URL: "https://api.tavily.com/search", Client: hc}
}

func (e *Engine) Name() string { return "tavily" }

type request struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
	Days          int    `json:"days"`
}

type response struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

func (e *Engine) Do(ctx context.Context, query, key string, maxResults int) ([]search.Result, error) {
	payload, err := json.Marshal(request{
		APIKey:      key,
		Query:       query,
		SearchDepth: "advanced",
		MaxResults:  maxResults,
		Days:        7,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return nil, fetcher.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		err := fmt.Errorf("tavily: HTTP %d: %s", resp.StatusCode, string(body))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fetcher.Auth(err)
		case http.StatusTooManyRequests, 432: // 432 is tavily's plan-limit status
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
		return nil, fmt.Errorf("tavily decode: %w", err)
	}

	results := make([]search.Result, 0, len(api.Results))
	for _, it := range api.Results {
		if len(results) >= maxResults {
			break
		}
		results = append(results, search.Result{
			Title:       it.Title,
			Snippet:     search.Truncate(it.Content, 500),
			URL:         it.URL,
			Source:      search.Domain(it.URL),
			PublishedAt: it.PublishedDate,
		})
	}
	return results, nil
}
