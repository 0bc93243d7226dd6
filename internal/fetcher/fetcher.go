package fetcher

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Bar is the normalized daily OHLCV row returned by all providers.
// Code is the caller-supplied instrument id, never the provider-internal one.
type Bar struct {
	Code   string    `json:"code"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"`
	PctChg float64   `json:"pct_chg"`
}

// Listing is one entry of the instrument universe.
type Listing struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Request asks for the daily history of one instrument.
// Dates are inclusive, formatted YYYY-MM-DD.
type Request struct {
	Code  string
	Start string
	End   string
}

var codeRe = regexp.MustCompile(`^\d{6}$`)

const dateLayout = "2006-01-02"

// ValidCode reports whether code is a well-formed 6-digit A-share code.
func ValidCode(code string) bool {
	return codeRe.MatchString(code)
}

// Validate rejects malformed requests before any provider is contacted.
func (r Request) Validate() error {
	if !ValidCode(r.Code) {
		return fmt.Errorf("instrument code %q: want 6 digits", r.Code)
	}
	start, err := time.Parse(dateLayout, r.Start)
	if err != nil {
		return fmt.Errorf("start date %q: %w", r.Start, err)
	}
	end, err := time.Parse(dateLayout, r.End)
	if err != nil {
		return fmt.Errorf("end date %q: %w", r.End, err)
	}
	if end.Before(start) {
		return fmt.Errorf("date range %s..%s: end before start", r.Start, r.End)
	}
	return nil
}

// Fetcher is one market-data backend. Implementations fully normalize their
// native payload into []Bar (ascending by date) before returning.
type Fetcher interface {
	Name() string
	// Priority orders failover; lower is tried first. Fixed at construction.
	Priority() int
	// Available reports whether the backend can be used at all,
	// e.g. false when a required credential is not configured.
	Available() bool
	FetchDaily(ctx context.Context, code, start, end string) ([]Bar, error)
	StockName(ctx context.Context, code string) (string, error)
}

// StockLister is implemented by fetchers that can enumerate the
// instrument universe.
type StockLister interface {
	StockList(ctx context.Context) ([]Listing, error)
}

// ShanghaiCode reports whether a 6-digit code belongs to the Shanghai
// exchange. Everything else is treated as Shenzhen, matching the usual
// prefix convention (60x/68x vs 00x/30x).
func ShanghaiCode(code string) bool {
	return len(code) == 6 && (code[0] == '6')
}
