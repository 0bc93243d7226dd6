package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "finance.sina.com.cn", Domain("https://finance.sina.com.cn/stock/s/600519.html"))
	require.Equal(t, "eastmoney.com", Domain("https://www.eastmoney.com/news/1"))
	require.Equal(t, "未知来源", Domain("not a url"))
	require.Equal(t, "未知来源", Domain(""))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", Truncate("abc", 10))
	require.Equal(t, "abc", Truncate("abcdef", 3))

	// Never cuts through a multi-byte rune.
	s := "贵州茅台发布年报"
	got := Truncate(s, 7)
	require.Equal(t, "贵州", got)
	require.True(t, strings.HasPrefix(s, got))
}

func TestResponseContext(t *testing.T) {
	t.Parallel()

	fail := Response{Query: "600519 新闻"}
	require.Contains(t, fail.Context(5), "未找到相关结果")

	ok := Response{
		Query:    "600519 新闻",
		Provider: "bocha",
		Success:  true,
		Elapsed:  time.Second,
		Results: []Result{
			{Title: "一", Snippet: "s1", Source: "a.com"},
			{Title: "二", Snippet: "s2", Source: "b.com"},
			{Title: "三", Snippet: "s3", Source: "c.com"},
		},
	}
	text := ok.Context(2)
	require.Contains(t, text, "bocha")
	require.Contains(t, text, "一")
	require.Contains(t, text, "二")
	require.NotContains(t, text, "三")
}
