package bocha_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockintel/internal/fetcher"
	"stockintel/internal/httpx"
	"stockintel/internal/search/bocha"
)

const payload = `{
	"code": 200,
	"data": {
		"webPages": {
			"value": [
				{
					"name": "贵州茅台股价创新高",
					"url": "https://finance.example.com/a/1",
					"snippet": "短摘要",
					"summary": "茅台今日收盘上涨，机构看多后市。",
					"siteName": "示例财经",
					"datePublished": "2024-04-02T08:00:00Z"
				},
				{
					"name": "白酒板块点评",
					"url": "https://www.other.example.com/b/2",
					"snippet": "板块整体走强"
				}
			]
		}
	}
}`

func TestDo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "贵州茅台 新闻", body["query"])
		require.Equal(t, "oneMonth", body["freshness"])
		require.Equal(t, true, body["summary"])

		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	e := bocha.New(httpx.New(5 * time.Second))
	e.URL = srv.URL

	results, err := e.Do(context.Background(), "贵州茅台 新闻", "test-key", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Summary preferred over snippet, siteName over URL host.
	require.Equal(t, "贵州茅台股价创新高", results[0].Title)
	require.Equal(t, "茅台今日收盘上涨，机构看多后市。", results[0].Snippet)
	require.Equal(t, "示例财经", results[0].Source)
	require.Equal(t, "2024-04-02T08:00:00Z", results[0].PublishedAt)

	// Missing summary falls back to the snippet, missing siteName to the domain.
	require.Equal(t, "板块整体走强", results[1].Snippet)
	require.Equal(t, "other.example.com", results[1].Source)
}

func TestDo_TruncatesToMax(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	e := bocha.New(httpx.New(5 * time.Second))
	e.URL = srv.URL

	results, err := e.Do(context.Background(), "q", "k", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDo_StatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusUnauthorized, fetcher.ErrAuth},
		{http.StatusForbidden, fetcher.ErrQuota},
		{http.StatusTooManyRequests, fetcher.ErrQuota},
		{http.StatusServiceUnavailable, fetcher.ErrTransient},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))

		e := bocha.New(httpx.New(5 * time.Second))
		e.URL = srv.URL

		_, err := e.Do(context.Background(), "q", "k", 5)
		require.ErrorIsf(t, err, c.kind, "status %d", c.status)
		srv.Close()
	}
}

func TestDo_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code": 400, "msg": "参数错误"}`))
	}))
	defer srv.Close()

	e := bocha.New(httpx.New(5 * time.Second))
	e.URL = srv.URL

	_, err := e.Do(context.Background(), "q", "k", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "参数错误")
}
