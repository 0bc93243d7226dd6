package search

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stockintel/internal/keypool"
)

// Engine executes one query with one concrete credential. Implementations
// classify failures with the fetcher error kinds so credential problems are
// charged to the key that caused them.
type Engine interface {
	Name() string
	Do(ctx context.Context, query, key string, maxResults int) ([]Result, error)
}

// Backed adapts an Engine plus its key pool into a Provider. It owns the
// rotation, success/error accounting, timing and result truncation that every
// backend needs, the same way for all of them.
type Backed struct {
	eng  Engine
	pool *keypool.Pool
	log  zerolog.Logger
}

func NewBacked(eng Engine, keys []string, log zerolog.Logger) *Backed {
	return &Backed{
		eng:  eng,
		pool: keypool.New(keys, log.With().Str("provider", eng.Name()).Logger()),
		log:  log,
	}
}

func (b *Backed) Name() string        { return b.eng.Name() }
func (b *Backed) Available() bool     { return b.pool.Len() > 0 }
func (b *Backed) Pool() *keypool.Pool { return b.pool }

func (b *Backed) Search(ctx context.Context, query string, maxResults int) Response {
	resp := Response{Query: query, Provider: b.eng.Name()}

	key := b.pool.Next()
	if key == nil {
		resp.ErrMessage = b.eng.Name() + ": no API key configured"
		return resp
	}

	started := time.Now()
	results, err := b.eng.Do(ctx, query, key.Secret, maxResults)
	resp.Elapsed = time.Since(started)

	if err != nil {
		b.pool.Error(key)
		resp.ErrMessage = err.Error()
		b.log.Warn().
			Str("provider", b.eng.Name()).
			Str("query", query).
			Dur("elapsed", resp.Elapsed).
			Err(err).
			Msg("search failed")
		return resp
	}

	b.pool.Success(key)
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	resp.Results = results
	resp.Success = true
	b.log.Info().
		Str("provider", b.eng.Name()).
		Str("query", query).
		Int("results", len(results)).
		Dur("elapsed", resp.Elapsed).
		Msg("search ok")
	return resp
}
