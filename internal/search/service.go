package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Dimension is one named intelligence-gathering angle with its own query
// template. Templates take the instrument name and code.
type Dimension struct {
	Key   string
	Desc  string
	Query string // fmt template: name, code
}

// Dimensions in fan-out and report order.
var Dimensions = []Dimension{
	{Key: "latest_news", Desc: "最新消息", Query: "%[1]s %[2]s 最新 新闻 重大 事件"},
	{Key: "market_analysis", Desc: "机构分析", Query: "%[1]s 研报 目标价 评级 深度分析"},
	{Key: "risk_check", Desc: "风险排查", Query: "%[1]s 减持 处罚 违规 诉讼 利空 风险"},
	{Key: "earnings", Desc: "业绩预期", Query: "%[1]s 业绩预告 财报 营收 净利润 同比增长"},
	{Key: "industry", Desc: "行业分析", Query: "%[1]s 所在行业 竞争对手 市场份额 行业前景"},
}

// fallbackTemplates are the keyword variations used when every data source
// has failed and the only remaining option is searching for price context.
var fallbackTemplates = []string{
	"%[1]s 股票 今日 股价",
	"%[1]s %[2]s 最新 行情 走势",
	"%[1]s 股票 分析 走势图",
	"%[1]s K线 技术分析",
	"%[1]s %[2]s 涨跌 成交量",
}

// defaultEventTypes drive Events when the caller passes none.
var defaultEventTypes = []string{"年报预告", "减持公告", "业绩快报"}

// Service fronts the configured search providers. Plain searches fail over
// in registration (priority) order; the multi-dimension fan-out instead
// spreads load round-robin across whichever providers are available.
type Service struct {
	providers []Provider
	log       zerolog.Logger
}

// NewService builds a Service. Provider order is priority order.
func NewService(log zerolog.Logger, providers ...Provider) *Service {
	s := &Service{providers: providers, log: log}
	for _, p := range providers {
		log.Info().Str("provider", p.Name()).Bool("available", p.Available()).Msg("search provider registered")
	}
	if len(providers) == 0 {
		log.Warn().Msg("no search providers configured, news search disabled")
	}
	return s
}

// Available reports whether at least one provider can serve queries.
func (s *Service) Available() bool {
	for _, p := range s.providers {
		if p.Available() {
			return true
		}
	}
	return false
}

// News searches recent news for one instrument, failing over across
// providers in priority order. Success requires a non-empty result set.
func (s *Service) News(ctx context.Context, code, name string, maxResults int) Response {
	query := fmt.Sprintf("%s %s 股票 最新消息", name, code)
	return s.failover(ctx, query, maxResults)
}

// Events searches decision-relevant corporate events (earnings previews,
// shareholder moves and the like) as one OR-joined query.
func (s *Service) Events(ctx context.Context, code, name string, types []string) Response {
	if len(types) == 0 {
		types = defaultEventTypes
	}
	query := fmt.Sprintf("%s (%s)", name, strings.Join(types, " OR "))
	return s.failover(ctx, query, 5)
}

func (s *Service) failover(ctx context.Context, query string, maxResults int) Response {
	for _, p := range s.providers {
		if !p.Available() {
			continue
		}
		resp := p.Search(ctx, query, maxResults)
		if resp.Success && len(resp.Results) > 0 {
			return resp
		}
		s.log.Warn().
			Str("provider", p.Name()).
			Str("reason", resp.ErrMessage).
			Msg("search provider failed, trying next")
	}
	return Response{
		Query:      query,
		Provider:   "none",
		ErrMessage: "所有搜索引擎都不可用或搜索失败",
	}
}

// Comprehensive fans out across the named dimensions, choosing a provider
// round-robin over the currently available set so no single backend carries
// the whole burst. The rotation starts fresh each call, so the provider a
// dimension lands on does not depend on earlier requests. One dimension's
// failure never cancels the others. Work is bounded by budget dimensions.
func (s *Service) Comprehensive(ctx context.Context, code, name string, budget int) map[string]Response {
	out := make(map[string]Response, len(Dimensions))
	if budget <= 0 {
		budget = 3
	}

	searches := 0
	rr := 0
	for _, dim := range Dimensions {
		if searches >= budget {
			break
		}
		available := s.available()
		if len(available) == 0 {
			break
		}
		p := available[rr%len(available)]
		rr++

		query := fmt.Sprintf(dim.Query, name, code)
		s.log.Info().Str("dimension", dim.Key).Str("provider", p.Name()).Msg("dimension search")
		out[dim.Key] = p.Search(ctx, query, 3)
		searches++
	}
	return out
}

// PriceFallback is the enhanced search used when every market-data provider
// has failed: several keyword templates are tried against providers in
// priority order, results are pooled and deduplicated by URL, and the call
// succeeds as soon as anything at all was found.
func (s *Service) PriceFallback(ctx context.Context, code, name string, maxAttempts, maxResults int) Response {
	query := fmt.Sprintf("%s(%s) 股价走势", name, code)
	if !s.Available() {
		return Response{Query: query, Provider: "none", ErrMessage: "未配置搜索引擎 API Key"}
	}
	if maxAttempts <= 0 || maxAttempts > len(fallbackTemplates) {
		maxAttempts = 3
	}

	var pooled []Result
	seen := make(map[string]struct{})
	var contributed []string

	for i := 0; i < maxAttempts; i++ {
		tq := fmt.Sprintf(fallbackTemplates[i], name, code)
		for _, p := range s.providers {
			if !p.Available() {
				continue
			}
			resp := p.Search(ctx, tq, 3)
			if !resp.Success || len(resp.Results) == 0 {
				continue
			}
			for _, r := range resp.Results {
				if _, dup := seen[r.URL]; dup {
					continue
				}
				seen[r.URL] = struct{}{}
				pooled = append(pooled, r)
			}
			if !contains(contributed, p.Name()) {
				contributed = append(contributed, p.Name())
			}
			break // this template is covered, move to the next one
		}
		if ctx.Err() != nil {
			break
		}
	}

	if len(pooled) == 0 {
		s.log.Warn().Str("code", code).Msg("fallback search found nothing")
		return Response{Query: query, Provider: "none", ErrMessage: "增强搜索未找到相关信息"}
	}
	if len(pooled) > maxResults {
		pooled = pooled[:maxResults]
	}
	return Response{
		Query:    query,
		Results:  pooled,
		Provider: strings.Join(contributed, ", "),
		Success:  true,
	}
}

// BatchNews runs News for several instruments with a delay between calls to
// stay under provider rate limits.
func (s *Service) BatchNews(ctx context.Context, stocks map[string]string, maxResults int, delay time.Duration) map[string]Response {
	out := make(map[string]Response, len(stocks))
	first := true
	for code, name := range stocks {
		if !first && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out
			case <-timer.C:
			}
		}
		first = false
		out[code] = s.News(ctx, code, name, maxResults)
	}
	return out
}

// Report renders a Comprehensive result map as a plain-text intel report,
// dimensions in declaration order.
func (s *Service) Report(intel map[string]Response, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【%s 情报搜索结果】", name)

	for _, dim := range Dimensions {
		resp, ok := intel[dim.Key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s (来源: %s):", dim.Desc, resp.Provider)
		if !resp.Success || len(resp.Results) == 0 {
			b.WriteString("\n  未找到相关信息")
			continue
		}
		for i, r := range resp.Results {
			if i >= 4 {
				break
			}
			date := ""
			if r.PublishedAt != "" {
				date = " [" + r.PublishedAt + "]"
			}
			fmt.Fprintf(&b, "\n  %d. %s%s", i+1, r.Title, date)
			fmt.Fprintf(&b, "\n     %s...", Truncate(r.Snippet, 150))
		}
	}
	return b.String()
}

func (s *Service) available() []Provider {
	out := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if p.Available() {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
