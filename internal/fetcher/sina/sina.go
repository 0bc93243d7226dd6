package sina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"stockintel/internal/fetcher"
	"stockintel/internal/httpx"
)

// Config controls the Sina provider.
type Config struct {
	Name     string
	KlineURL string
	QuoteURL string
	Priority int
}

// Fetcher pulls daily klines from Sina's market data service and instrument
// names from the GBK-encoded hq quote endpoint. No credential required.
type Fetcher struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "sina"
	}
	if cfg.KlineURL == "" {
		cfg.KlineURL = "https://quotes.sina.cn/cn/api/json_v2.php/CN_MarketDataService.getKLineData"
	}
	if cfg.QuoteURL == "" {
		cfg.QuoteURL = "https://hq.sinajs.cn/list="
	}
	return &Fetcher{cfg: cfg, client: hc}
}

func (f *Fetcher) Name() string    { return f.cfg.Name }
func (f *Fetcher) Priority() int   { return f.cfg.Priority }
func (f *Fetcher) Available() bool { return true }

func sinaSymbol(code string) string {
	if fetcher.ShanghaiCode(code) {
		return "sh" + code
	}
	return "sz" + code
}

type klineRow struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func (f *Fetcher) FetchDaily(ctx context.Context, code, start, end string) ([]fetcher.Bar, error) {
	startT, _ := time.Parse("2006-01-02", start)
	endT, _ := time.Parse("2006-01-02", end)

	// The endpoint counts bars back from the latest session, so estimate
	// how many trading days cover the requested range and filter after.
	span := int(endT.Sub(startT).Hours()/24) + int(time.Since(endT).Hours()/24)
	count := span*5/7 + 10
	if count < 30 {
		count = 30
	}
	if count > 1023 {
		count = 1023
	}

	url := fmt.Sprintf("%s?symbol=%s&scale=240&ma=no&datalen=%d", f.cfg.KlineURL, sinaSymbol(code), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return nil, fetcher.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fetcher.Transient(fmt.Errorf("sina: HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sina: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fetcher.Transient(err)
	}
	if len(body) == 0 || string(body) == "null" {
		return nil, fetcher.NotFound(code)
	}

	var rows []klineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("sina decode: %w", err)
	}

	bars := make([]fetcher.Bar, 0, len(rows))
	prevClose := 0.0
	for _, r := range rows {
		date, err := time.Parse("2006-01-02", r.Day)
		if err != nil {
			continue
		}
		closeP := parseF(r.Close)
		// Sina does not return pct_chg; derive it from consecutive closes.
		pct := 0.0
		if prevClose > 0 {
			pct = math.Round((closeP-prevClose)/prevClose*100*100) / 100
		}
		prevClose = closeP

		if date.Before(startT) || date.After(endT) {
			continue
		}
		bars = append(bars, fetcher.Bar{
			Code:   code,
			Date:   date,
			Open:   parseF(r.Open),
			High:   parseF(r.High),
			Low:    parseF(r.Low),
			Close:  closeP,
			Volume: parseF(r.Volume),
			Amount: 0,
			PctChg: pct,
		})
	}
	if len(bars) == 0 {
		return nil, fetcher.NotFound(code)
	}
	return bars, nil
}

// StockName reads the realtime quote line, which is GBK-encoded, and takes
// the first comma field.
func (f *Fetcher) StockName(ctx context.Context, code string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.QuoteURL+sinaSymbol(code), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return "", fetcher.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sina: HTTP %d", resp.StatusCode)
	}

	utf8Body := transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder())
	body, err := io.ReadAll(io.LimitReader(utf8Body, 1<<16))
	if err != nil {
		return "", fetcher.Transient(err)
	}

	// var hq_str_sh600519="贵州茅台,...";
	line := string(body)
	parts := strings.Split(line, "\"")
	if len(parts) < 2 || parts[1] == "" {
		return "", fetcher.NotFound(code)
	}
	fields := strings.Split(parts[1], ",")
	if len(fields) == 0 || fields[0] == "" {
		return "", fetcher.NotFound(code)
	}
	return strings.TrimSpace(fields[0]), nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}
