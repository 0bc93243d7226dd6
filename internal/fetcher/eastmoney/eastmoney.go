package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockintel/internal/fetcher"
	"stockintel/internal/httpx"
)

// Config controls the Eastmoney provider.
type Config struct {
	Name     string
	KlineURL string
	QuoteURL string
	Priority int
}

// Fetcher pulls daily klines from the Eastmoney push2his API. No credential
// is required, so the provider is always available.
type Fetcher struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "eastmoney"
	}
	if cfg.KlineURL == "" {
		cfg.KlineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"
	}
	if cfg.QuoteURL == "" {
		cfg.QuoteURL = "https://push2.eastmoney.com/api/qt/stock/get"
	}
	return &Fetcher{cfg: cfg, client: hc}
}

func (f *Fetcher) Name() string    { return f.cfg.Name }
func (f *Fetcher) Priority() int   { return f.cfg.Priority }
func (f *Fetcher) Available() bool { return true }

// secID maps a bare 6-digit code to Eastmoney's market-prefixed id.
func secID(code string) string {
	if fetcher.ShanghaiCode(code) {
		return "1." + code
	}
	return "0." + code
}

type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

func (f *Fetcher) FetchDaily(ctx context.Context, code, start, end string) ([]fetcher.Bar, error) {
	// klt=101 daily bars, fqt=1 front-adjusted.
	url := fmt.Sprintf("%s?secid=%s&fields1=f1,f2,f3&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59&klt=101&fqt=1&beg=%s&end=%s",
		f.cfg.KlineURL, secID(code), compact(start), compact(end))

	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var api klineResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("eastmoney decode: %w", err)
	}
	if api.Data == nil || len(api.Data.Klines) == 0 {
		return nil, fetcher.NotFound(code)
	}

	bars := make([]fetcher.Bar, 0, len(api.Data.Klines))
	for _, line := range api.Data.Klines {
		// f51..f59: date,open,close,high,low,volume,amount,amplitude,pct_chg
		parts := strings.Split(line, ",")
		if len(parts) < 9 {
			continue
		}
		date, err := time.Parse("2006-01-02", parts[0])
		if err != nil {
			continue
		}
		bars = append(bars, fetcher.Bar{
			Code:   code,
			Date:   date,
			Open:   parseF(parts[1]),
			Close:  parseF(parts[2]),
			High:   parseF(parts[3]),
			Low:    parseF(parts[4]),
			Volume: parseF(parts[5]),
			Amount: parseF(parts[6]),
			PctChg: parseF(parts[8]),
		})
	}
	if len(bars) == 0 {
		return nil, fetcher.NotFound(code)
	}
	return bars, nil
}

type quoteResponse struct {
	Data *struct {
		Name string `json:"f58"`
	} `json:"data"`
}

func (f *Fetcher) StockName(ctx context.Context, code string) (string, error) {
	url := fmt.Sprintf("%s?secid=%s&fields=f57,f58", f.cfg.QuoteURL, secID(code))
	body, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}
	var api quoteResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return "", fmt.Errorf("eastmoney decode: %w", err)
	}
	if api.Data == nil || api.Data.Name == "" {
		return "", fetcher.NotFound(code)
	}
	return api.Data.Name, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return nil, fetcher.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fetcher.Transient(fmt.Errorf("eastmoney: HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eastmoney: HTTP %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fetcher.Transient(err)
	}
	return b, nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func compact(date string) string {
	return strings.ReplaceAll(date, "-", "")
}
