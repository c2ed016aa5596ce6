// Package idgen produces human-readable unique identifiers such as COMP-20240131-7QK2M9ZC1A.
package idgen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"
)

// Prefixes for the collections that own generated ids.
const (
	PrefixCompany = "COMP"
	PrefixTeam    = "TEAM"
	PrefixTicket  = "TKT"
)

const (
	alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffixLength = 10
	// MaxAttempts bounds the collision retry loop.
	MaxAttempts = 5
)

// ErrIdentifierSpaceExhausted is returned when every attempt collided with an existing id.
var ErrIdentifierSpaceExhausted = errors.New("identifier space exhausted")

// Checker reports whether an id is already taken in the owning collection.
type Checker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, id string) (bool, error)

// Exists calls f.
func (f CheckerFunc) Exists(ctx context.Context, id string) (bool, error) { return f(ctx, id) }

// Generator creates ids for one prefix.
type Generator struct {
	prefix      string
	checker     Checker
	now         func() time.Time
	random      io.Reader
	maxAttempts int
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock sets the time source used for the date stamp.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRandom sets the entropy source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// WithMaxAttempts overrides MaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// New creates a generator. A nil checker skips the existence pre-check.
func New(prefix string, checker Checker, opts ...Option) *Generator {
	g := &Generator{
		prefix:      prefix,
		checker:     checker,
		now:         time.Now,
		random:      rand.Reader,
		maxAttempts: MaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns an id that was not present in the collection at check time.
// Checker errors are returned as-is; only collisions are retried.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		id, err := g.Candidate()
		if err != nil {
			return "", err
		}
		if g.checker == nil {
			return id, nil
		}
		taken, err := g.checker.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check %s id: %w", g.prefix, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%s after %d attempts: %w", g.prefix, g.maxAttempts, ErrIdentifierSpaceExhausted)
}

// Candidate builds one id without checking for collisions.
func (g *Generator) Candidate() (string, error) {
	suffix, err := randomSuffix(g.random, suffixLength)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", g.prefix, g.now().UTC().Format("20060102"), suffix), nil
}

func randomSuffix(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	out := make([]byte, 0, n)
	// 252 is the largest multiple of 36 below 256; rejecting above it keeps the draw uniform.
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= 252 {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
