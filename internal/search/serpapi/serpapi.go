package serpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"stockintel/internal/fetcher"
	"stockintel/internal/httpx"
	"stockintel/internal/search"
)

// Engine talks to SerpAPI's Baidu engine. Last-resort backend: the free tier
// is tiny but Baidu's index covers names the western engines miss.
type Engine struct {
	URL    string
	Client *httpx.Client
}

func New(hc *httpx.Client) *Engine {
	return &Engine{URL: "https://serpapi.com/search", Client: hc}
}

func (e *Engine) Name() string { return "serpapi" }

type response struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
		Source  string `json:"source"`
		Date    string `json:"date"`
	} `json:"organic_results"`
}

func (e *Engine) Do(ctx context.Context, query, key string, maxResults int) ([]search.Result, error) {
	q := url.Values{}
	q.Set("engine", "baidu")
	q.Set("q", query)
	q.Set("api_key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return nil, fetcher.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		err := fmt.Errorf("serpapi: HTTP %d: %s", resp.StatusCode, string(body))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fetcher.Auth(err)
		case http.StatusTooManyRequests:
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
		return nil, fmt.Errorf("serpapi decode: %w", err)
	}
	if api.Error != "" {
		return nil, fmt.Errorf("serpapi: %s", api.Error)
	}

	results := make([]search.Result, 0, len(api.OrganicResults))
	for _, it := range api.OrganicResults {
		if len(results) >= maxResults {
			break
		}
		source := it.Source
		if source == "" {
			source = search.Domain(it.Link)
		}
		results = append(results, search.Result{
			Title:       it.Title,
			Snippet:     search.Truncate(it.Snippet, 500),
			URL:         it.Link,
			Source:      source,
			PublishedAt: it.Date,
		})
	}
	return results, nil
}
