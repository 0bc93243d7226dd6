package tushare

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stockintel/internal/fetcher"
	"stockintel/internal/keypool"
)

// Config controls the Tushare provider.
type Config struct {
	Name string
	// Tokens is the credential pool. With no tokens the provider reports
	// itself unavailable and is skipped by the manager.
	Tokens []string
	// Priority should be 0 when tokens are configured; the config layer
	// decides that once at startup.
	Priority int
}

// Fetcher pulls daily bars from the Tushare Pro API. Tokens rotate through a
// key pool: quota and auth failures count against the token that produced
// them, so one exhausted token does not take the provider down.
type Fetcher struct {
	cfg    Config
	client *Client
	pool   *keypool.Pool
	log    zerolog.Logger
}

func New(cfg Config, client *Client, log zerolog.Logger) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "tushare"
	}
	if client == nil {
		client = NewClient()
	}
	return &Fetcher{
		cfg:    cfg,
		client: client,
		pool:   keypool.New(cfg.Tokens, log),
		log:    log,
	}
}

func (f *Fetcher) Name() string    { return f.cfg.Name }
func (f *Fetcher) Priority() int   { return f.cfg.Priority }
func (f *Fetcher) Available() bool { return f.pool.Len() > 0 }

// Pool exposes credential stats for diagnostics.
func (f *Fetcher) Pool() *keypool.Pool { return f.pool }

// callErr charges the key and classifies a client error. Only transport
// failures retry; a malformed body or an unexpected HTTP status is terminal
// for this provider.
func (f *Fetcher) callErr(key *keypool.Key, err error) error {
	f.pool.Error(key)
	if errors.Is(err, ErrPerformingRequest) {
		return fetcher.Transient(err)
	}
	return err
}

// tsCode maps a bare 6-digit code to Tushare's suffixed form.
func tsCode(code string) string {
	if fetcher.ShanghaiCode(code) {
		return code + ".SH"
	}
	return code + ".SZ"
}

func (f *Fetcher) FetchDaily(ctx context.Context, code, start, end string) ([]fetcher.Bar, error) {
	key := f.pool.Next()
	if key == nil {
		return nil, fetcher.Auth(errors.New("no tushare token configured"))
	}

	api, err := f.client.Call(ctx, key.Secret, "daily", map[string]string{
		"ts_code":    tsCode(code),
		"start_date": compact(start),
		"end_date":   compact(end),
	}, "trade_date,open,high,low,close,vol,amount,pct_chg")
	if err != nil {
		return nil, f.callErr(key, err)
	}
	if api.Code != 0 {
		f.pool.Error(key)
		return nil, classify(api.Code, api.Msg)
	}
	if api.Data == nil || len(api.Data.Items) == 0 {
		f.pool.Success(key)
		return nil, fetcher.NotFound(code)
	}

	idx := map[string]int{}
	for _, name := range []string{"trade_date", "open", "high", "low", "close", "vol", "amount", "pct_chg"} {
		idx[name] = api.Column(name)
	}

	bars := make([]fetcher.Bar, 0, len(api.Data.Items))
	for _, row := range api.Data.Items {
		date, err := time.Parse("20060102", cell(row, idx["trade_date"]))
		if err != nil {
			continue
		}
		bars = append(bars, fetcher.Bar{
			Code:   code,
			Date:   date,
			Open:   num(row, idx["open"]),
			High:   num(row, idx["high"]),
			Low:    num(row, idx["low"]),
			Close:  num(row, idx["close"]),
			Volume: num(row, idx["vol"]),
			Amount: num(row, idx["amount"]),
			PctChg: num(row, idx["pct_chg"]),
		})
	}
	// Tushare returns newest first; callers get ascending dates.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	f.pool.Success(key)
	if len(bars) == 0 {
		return nil, fetcher.NotFound(code)
	}
	return bars, nil
}

func (f *Fetcher) StockName(ctx context.Context, code string) (string, error) {
	key := f.pool.Next()
	if key == nil {
		return "", fetcher.Auth(errors.New("no tushare token configured"))
	}

	api, err := f.client.Call(ctx, key.Secret, "stock_basic", map[string]string{
		"ts_code": tsCode(code),
	}, "ts_code,name")
	if err != nil {
		return "", f.callErr(key, err)
	}
	if api.Code != 0 {
		f.pool.Error(key)
		return "", classify(api.Code, api.Msg)
	}
	f.pool.Success(key)

	nameCol := api.Column("name")
	if api.Data == nil || len(api.Data.Items) == 0 || nameCol < 0 {
		return "", fetcher.NotFound(code)
	}
	return cell(api.Data.Items[0], nameCol), nil
}

// StockList enumerates all listed instruments.
func (f *Fetcher) StockList(ctx context.Context) ([]fetcher.Listing, error) {
	key := f.pool.Next()
	if key == nil {
		return nil, fetcher.Auth(errors.New("no tushare token configured"))
	}

	api, err := f.client.Call(ctx, key.Secret, "stock_basic", map[string]string{
		"list_status": "L",
	}, "symbol,name")
	if err != nil {
		return nil, f.callErr(key, err)
	}
	if api.Code != 0 {
		f.pool.Error(key)
		return nil, classify(api.Code, api.Msg)
	}
	f.pool.Success(key)

	symCol, nameCol := api.Column("symbol"), api.Column("name")
	if api.Data == nil || symCol < 0 || nameCol < 0 {
		return nil, fetcher.NotFound("stock list")
	}
	out := make([]fetcher.Listing, 0, len(api.Data.Items))
	for _, row := range api.Data.Items {
		out = append(out, fetcher.Listing{Code: cell(row, symCol), Name: cell(row, nameCol)})
	}
	return out, nil
}

// classify maps Tushare application errors onto the shared taxonomy.
// The API signals quota problems with code 40203 or point/frequency wording
// in the message, and bad tokens with code 2002.
func classify(code int, msg string) error {
	err := fmt.Errorf("tushare: code=%d msg=%q", code, msg)
	lower := strings.ToLower(msg)
	switch {
	case code == 2002 || strings.Contains(lower, "token"):
		return fetcher.Auth(err)
	case code == 40203 ||
		strings.Contains(msg, "积分") ||
		strings.Contains(msg, "每分钟") ||
		strings.Contains(msg, "每天") ||
		strings.Contains(lower, "quota"):
		return fetcher.Quota(err)
	default:
		return err
	}
}

func cell(row []any, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func num(row []any, i int) float64 {
	if i < 0 || i >= len(row) {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func compact(date string) string {
	return strings.ReplaceAll(date, "-", "")
}
