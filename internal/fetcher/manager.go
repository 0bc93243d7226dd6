package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Manager tries an ordered list of fetchers until one produces a usable
// result. Ordering is fixed at construction: ascending priority, ties broken
// by registration order. Within a single acquisition providers are attempted
// strictly sequentially; a success short-circuits the rest.
//
// An empty result set counts as a failure: "no data" from one backend is not
// a terminal answer while higher-priority alternates remain untried.
type Manager struct {
	fetchers []Fetcher
	log      zerolog.Logger

	// Name/list lookups are cached for the process lifetime. The universe
	// is small and static within a trading session, so the map is
	// unbounded and never evicted.
	mu    sync.RWMutex
	names map[string]string
	list  []Listing
	sf    singleflight.Group
}

// New builds a Manager over the given fetchers. The slice is sorted by
// priority once, here; runtime success or failure never re-ranks it.
func New(log zerolog.Logger, fetchers ...Fetcher) *Manager {
	m := &Manager{
		fetchers: append([]Fetcher(nil), fetchers...),
		log:      log,
		names:    make(map[string]string),
	}
	sort.SliceStable(m.fetchers, func(i, j int) bool {
		return m.fetchers[i].Priority() < m.fetchers[j].Priority()
	})
	for _, f := range m.fetchers {
		log.Info().
			Str("provider", f.Name()).
			Int("priority", f.Priority()).
			Bool("available", f.Available()).
			Msg("fetcher registered")
	}
	return m
}

// Daily acquires the daily history for req, failing over across providers.
// On total failure the returned error is an *ExhaustedError carrying the
// last error from every attempted provider.
func (m *Manager) Daily(ctx context.Context, req Request) ([]Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	log := m.log.With().
		Str("request_id", shortID()).
		Str("code", req.Code).
		Logger()

	var attempts []Attempt
	for _, f := range m.fetchers {
		if !f.Available() {
			log.Debug().Str("provider", f.Name()).Msg("provider unavailable, skipping")
			continue
		}

		started := time.Now()
		bars, err := withRetry(ctx, defaultRetryConfig(log, f.Name()), func() ([]Bar, error) {
			return f.FetchDaily(ctx, req.Code, req.Start, req.End)
		})
		elapsed := time.Since(started)

		if err == nil && len(bars) == 0 {
			err = NotFound(req.Code)
		}
		if err == nil {
			log.Info().
				Str("provider", f.Name()).
				Int("rows", len(bars)).
				Dur("elapsed", elapsed).
				Msg("daily history acquired")
			return bars, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		log.Warn().
			Str("provider", f.Name()).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("provider failed, trying next")
		attempts = append(attempts, Attempt{Provider: f.Name(), Err: err})
	}

	return nil, &ExhaustedError{Code: req.Code, Attempts: attempts}
}

// StockName resolves the display name for an instrument, trying providers in
// priority order. Results are cached; concurrent misses for the same code are
// coalesced.
func (m *Manager) StockName(ctx context.Context, code string) (string, error) {
	if !codeRe.MatchString(code) {
		return "", fmt.Errorf("instrument code %q: want 6 digits", code)
	}

	m.mu.RLock()
	name, ok := m.names[code]
	m.mu.RUnlock()
	if ok {
		return name, nil
	}

	v, err, _ := m.sf.Do("name:"+code, func() (any, error) {
		var attempts []Attempt
		for _, f := range m.fetchers {
			if !f.Available() {
				continue
			}
			name, err := f.StockName(ctx, code)
			if err != nil {
				attempts = append(attempts, Attempt{Provider: f.Name(), Err: err})
				continue
			}
			if name == "" {
				attempts = append(attempts, Attempt{Provider: f.Name(), Err: NotFound(code)})
				continue
			}
			m.mu.Lock()
			m.names[code] = name
			m.mu.Unlock()
			return name, nil
		}
		return "", &ExhaustedError{Code: code, Attempts: attempts}
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// StockList returns the instrument universe from the first provider able to
// enumerate it. The list is fetched once and cached for the process lifetime;
// the name cache is warmed from it as a side effect.
func (m *Manager) StockList(ctx context.Context) ([]Listing, error) {
	m.mu.RLock()
	cached := m.list
	m.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := m.sf.Do("list", func() (any, error) {
		var attempts []Attempt
		for _, f := range m.fetchers {
			lister, ok := f.(StockLister)
			if !ok || !f.Available() {
				continue
			}
			list, err := lister.StockList(ctx)
			if err != nil || len(list) == 0 {
				if err == nil {
					err = errors.New("empty stock list")
				}
				attempts = append(attempts, Attempt{Provider: f.Name(), Err: err})
				continue
			}
			m.mu.Lock()
			m.list = list
			for _, l := range list {
				m.names[l.Code] = l.Name
			}
			m.mu.Unlock()
			m.log.Info().Str("provider", f.Name()).Int("instruments", len(list)).Msg("stock list cached")
			return list, nil
		}
		return nil, &ExhaustedError{Code: "stock-list", Attempts: attempts}
	})
	if err != nil {
		return nil, err
	}
	return v.([]Listing), nil
}

// ProviderStatus describes one registered fetcher for diagnostics.
type ProviderStatus struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
}

// Status lists registered fetchers in failover order.
func (m *Manager) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(m.fetchers))
	for _, f := range m.fetchers {
		out = append(out, ProviderStatus{Name: f.Name(), Priority: f.Priority(), Available: f.Available()})
	}
	return out
}

func shortID() string {
	return uuid.NewString()[:8]
}
