// Package requestid generates human-legible request identifiers of the form
// {prefix}_{YYYYMMDD}_{HHMMSS}_{suffix}. Uniqueness is probabilistic; the
// record store rejects collisions at insert time.
package requestid

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPrefix is used when no prefix is configured.
	DefaultPrefix = "REQ"
	// MinSuffix and MaxSuffix bound the random suffix to 4..6 digits.
	MinSuffix = 1000
	MaxSuffix = 999999
)

// Generator produces request ids.
type Generator struct {
	prefix string
	min    int
	max    int

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithRange sets the inclusive random suffix range.
func WithRange(min, max int) Option {
	return func(g *Generator) {
		g.min, g.max = min, max
	}
}

// WithSource sets the random source.
func WithSource(src rand.Source) Option {
	return func(g *Generator) {
		g.rnd = rand.New(src)
	}
}

// WithClock sets the time source used by Next.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New creates a generator. The suffix range must stay within 4..6 digits.
func New(prefix string, opts ...Option) (*Generator, error) {
	g := &Generator{
		prefix: strings.TrimSpace(prefix),
		min:    MinSuffix,
		max:    MaxSuffix,
		rnd:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.prefix == "" {
		g.prefix = DefaultPrefix
	}
	if strings.Contains(g.prefix, "_") {
		return nil, fmt.Errorf("request id prefix %q must not contain '_'", g.prefix)
	}
	if g.min < MinSuffix || g.max > MaxSuffix || g.min > g.max {
		return nil, fmt.Errorf("request id suffix range [%d, %d] must lie within [%d, %d]", g.min, g.max, MinSuffix, MaxSuffix)
	}
	return g, nil
}

// Next returns an id stamped with the generator clock.
func (g *Generator) Next() string {
	return g.Generate(g.now())
}

// Generate returns an id stamped with the given time.
func (g *Generator) Generate(now time.Time) string {
	g.mu.Lock()
	suffix := g.min + g.rnd.IntN(g.max-g.min+1)
	g.mu.Unlock()

	return fmt.Sprintf("%s_%s_%s_%d", g.prefix, now.Format("20060102"), now.Format("150405"), suffix)
}
