package tdx

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/simplifiedchinese"

	"stockintel/internal/fetcher"
)

// DefaultHosts is the builtin quote-server list.
var DefaultHosts = []string{
	"119.147.212.81:7709",
	"112.74.214.43:7727",
	"221.231.141.60:7709",
	"101.227.73.20:7709",
	"101.227.77.254:7709",
	"14.215.128.18:7709",
	"59.173.18.140:7709",
	"180.153.39.51:7709",
}

const (
	marketShenzhen uint16 = 0
	marketShanghai uint16 = 1
)

// Config controls the TDX provider.
type Config struct {
	Name     string
	Hosts    []string
	Priority int
	Timeout  time.Duration
}

// Fetcher reads daily bars straight from TDX quote servers. Free and
// tokenless, so always available; it sits at the bottom of the failover
// order as the last resort before search fallback.
//
// Connections are scoped to a single call. Host selection is sticky: the
// last host that connected successfully is tried first next time.
type Fetcher struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	hostIdx  int
	listMemo []fetcher.Listing
}

func New(cfg Config, log zerolog.Logger) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "tdx"
	}
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultHosts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Fetcher{cfg: cfg, log: log}
}

func (f *Fetcher) Name() string    { return f.cfg.Name }
func (f *Fetcher) Priority() int   { return f.cfg.Priority }
func (f *Fetcher) Available() bool { return true }

// connect dials hosts starting at the last good one until one answers.
func (f *Fetcher) connect(ctx context.Context) (*conn, error) {
	f.mu.Lock()
	start := f.hostIdx
	f.mu.Unlock()

	var lastErr error
	for i := 0; i < len(f.cfg.Hosts); i++ {
		idx := (start + i) % len(f.cfg.Hosts)
		addr := f.cfg.Hosts[idx]
		s, err := dial(ctx, addr, f.cfg.Timeout)
		if err != nil {
			f.log.Debug().Str("host", addr).Err(err).Msg("tdx host unreachable")
			lastErr = err
			continue
		}
		f.mu.Lock()
		f.hostIdx = idx
		f.mu.Unlock()
		return s, nil
	}
	return nil, fetcher.Transient(fmt.Errorf("tdx: no reachable quote server: %w", lastErr))
}

func market(code string) uint16 {
	if fetcher.ShanghaiCode(code) {
		return marketShanghai
	}
	return marketShenzhen
}

func (f *Fetcher) FetchDaily(ctx context.Context, code, start, end string) ([]fetcher.Bar, error) {
	startT, _ := time.Parse("2006-01-02", start)
	endT, _ := time.Parse("2006-01-02", end)

	// The server counts bars back from the latest session; estimate how
	// many trading days cover the range, bounded to one request page.
	span := int(endT.Sub(startT).Hours()/24) + int(time.Since(endT).Hours()/24)
	count := span*5/7 + 10
	if count < 30 {
		count = 30
	}
	if count > 800 {
		count = 800
	}

	s, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	raw, err := s.bars(market(code), code, 0, uint16(count))
	if err != nil {
		return nil, fetcher.Transient(fmt.Errorf("tdx bars: %w", err))
	}
	if len(raw) == 0 {
		return nil, fetcher.NotFound(code)
	}

	bars := make([]fetcher.Bar, 0, len(raw))
	prevClose := 0.0
	for _, r := range raw {
		date, err := time.Parse("20060102", strconv.FormatUint(uint64(r.Date), 10))
		if err != nil {
			continue
		}
		// The wire format carries no pct_chg; derive it from closes.
		pct := 0.0
		if prevClose > 0 {
			pct = math.Round((r.Close-prevClose)/prevClose*100*100) / 100
		}
		prevClose = r.Close

		if date.Before(startT) || date.After(endT) {
			continue
		}
		bars = append(bars, fetcher.Bar{
			Code:   code,
			Date:   date,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			Amount: r.Amount,
			PctChg: pct,
		})
	}
	if len(bars) == 0 {
		return nil, fetcher.NotFound(code)
	}
	return bars, nil
}

func (f *Fetcher) StockName(ctx context.Context, code string) (string, error) {
	list, err := f.StockList(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range list {
		if l.Code == code {
			return l.Name, nil
		}
	}
	return "", fetcher.NotFound(code)
}

// StockList pages through both markets' security lists. The decoded list is
// memoized for the provider's lifetime; the universe does not change
// intraday.
func (f *Fetcher) StockList(ctx context.Context) ([]fetcher.Listing, error) {
	f.mu.Lock()
	memo := f.listMemo
	f.mu.Unlock()
	if memo != nil {
		return memo, nil
	}

	s, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	dec := simplifiedchinese.GBK.NewDecoder()
	var out []fetcher.Listing
	for _, mkt := range []uint16{marketShenzhen, marketShanghai} {
		for start := uint16(0); ; {
			page, err := s.list(mkt, start)
			if err != nil {
				return nil, fetcher.Transient(fmt.Errorf("tdx list: %w", err))
			}
			for _, e := range page {
				name, err := dec.Bytes(e.Name)
				if err != nil {
					name = e.Name
				}
				out = append(out, fetcher.Listing{Code: e.Code, Name: string(name)})
			}
			if len(page) < 1000 {
				break
			}
			start += uint16(len(page))
		}
	}
	if len(out) == 0 {
		return nil, fetcher.NotFound("security list")
	}

	f.mu.Lock()
	f.listMemo = out
	f.mu.Unlock()
	return out, nil
}
