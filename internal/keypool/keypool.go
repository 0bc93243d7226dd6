package keypool

import (
	"sync"

	"github.com/rs/zerolog"
)

// maxErrors is the error count at which a key stops being handed out.
const maxErrors = 3

// Key is one credential tracked by a Pool.
type Key struct {
	Secret string
	usage  int
	errors int
}

// Stats is a read-only snapshot of one key's counters.
type Stats struct {
	Secret string `json:"-"`
	Label  string `json:"key"`
	Usage  int    `json:"usage"`
	Errors int    `json:"errors"`
}

// Pool rotates a provider's credentials round-robin, skipping keys that have
// accumulated too many errors. When every key is skip-eligible the pool resets
// all error counts and starts over from the first key, so a burst of transient
// failures cannot lock the provider out permanently.
//
// All methods are safe for concurrent use; rotation and counters are guarded
// by a single mutex.
type Pool struct {
	mu   sync.Mutex
	keys []*Key
	next int
	log  zerolog.Logger
}

// New builds a pool over the given secrets. Empty secrets are dropped.
func New(secrets []string, log zerolog.Logger) *Pool {
	p := &Pool{log: log}
	for _, s := range secrets {
		if s == "" {
			continue
		}
		p.keys = append(p.keys, &Key{Secret: s})
	}
	return p
}

// Len reports the number of keys in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next returns the next usable key, or nil when the pool is empty.
// Keys with errors >= 3 are skipped. If every key is degraded, all error
// counts are reset and the first key is returned.
func (p *Pool) Next() *Key {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return nil
	}

	for i := 0; i < len(p.keys); i++ {
		k := p.keys[p.next]
		p.next = (p.next + 1) % len(p.keys)
		if k.errors < maxErrors {
			return k
		}
	}

	// Every key has hit the error threshold. Treat the penalty window as
	// expired: reset counts and hand out the first key again.
	p.log.Warn().Int("keys", len(p.keys)).Msg("all keys degraded, resetting error counts")
	for _, k := range p.keys {
		k.errors = 0
	}
	p.next = 1 % len(p.keys)
	return p.keys[0]
}

// Success records a successful use of k. One success heals one prior error
// rather than wiping the history.
func (p *Pool) Success(k *Key) {
	if k == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	k.usage++
	if k.errors > 0 {
		k.errors--
	}
}

// Error records a failed use of k.
func (p *Pool) Error(k *Key) {
	if k == nil {
		return
	}
	p.mu.Lock()
	k.errors++
	count := k.errors
	p.mu.Unlock()
	p.log.Warn().Str("key", redact(k.Secret)).Int("errors", count).Msg("key error recorded")
}

// Stats returns a snapshot of every key's counters, secrets redacted.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, Stats{Secret: k.Secret, Label: redact(k.Secret), Usage: k.usage, Errors: k.errors})
	}
	return out
}

func redact(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:8] + "..."
}
