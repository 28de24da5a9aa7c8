// Package availability answers "is this subdomain or email still free?"
// while the promoter is typing.
//
// The funnel UI polls these checks on every keystroke pause, so lookups are
// deduplicated through singleflight and results are held in a short-lived
// cache. The cache is advisory only: the pre-registration step re-checks
// against the store before advancing, and the database unique indexes are
// the final word.
package availability

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	emailutil "examtrack/pkg/email"
)

// Source exposes the store lookups the checker consults on a cache miss.
// exclude keeps a session from colliding with its own saved data; the nil
// SessionID checks against everything.
type Source interface {
	SubdomainInUse(ctx context.Context, subdomain string, exclude id.SessionID) (bool, error)
	EmailInUse(ctx context.Context, address string, exclude id.SessionID) (bool, error)
}

// Directory exposes provisioned-tenant lookups. A value held by a tenant is
// taken for every session, so the exclusion never applies here.
type Directory interface {
	SubdomainTaken(ctx context.Context, subdomain string) (bool, error)
	EmailTaken(ctx context.Context, address string) (bool, error)
}

// Result is a point-in-time availability answer.
type Result struct {
	Value     string `json:"value"`
	Available bool   `json:"available"`
	// Reason is set when unavailable: "taken" or "reserved".
	Reason string `json:"reason,omitempty"`
}

// Subdomains that would collide with platform routing are never offered.
var reservedSubdomains = map[string]struct{}{
	"www":     {},
	"api":     {},
	"app":     {},
	"admin":   {},
	"mail":    {},
	"status":  {},
	"support": {},
	"docs":    {},
}

// IsReserved reports whether a subdomain collides with platform routing.
func IsReserved(subdomain string) bool {
	_, ok := reservedSubdomains[subdomain]
	return ok
}

const defaultCacheTTL = 3 * time.Second

const lookupTimeout = 3 * time.Second

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Checker deduplicates and caches availability lookups.
type Checker struct {
	source    Source
	directory Directory
	ttl       time.Duration
	group     singleflight.Group
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type Option func(*Checker)

func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Checker) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDirectory adds provisioned tenants to the lookup: a value a school
// already owns reports taken even when no session holds it.
func WithDirectory(d Directory) Option {
	return func(c *Checker) {
		c.directory = d
	}
}

// WithClock overrides the checker's clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

func NewChecker(source Source, opts ...Option) *Checker {
	c := &Checker{
		source: source,
		ttl:    defaultCacheTTL,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subdomain reports whether a subdomain is free to claim.
func (c *Checker) Subdomain(ctx context.Context, value string, exclude id.SessionID) (Result, error) {
	subdomain := strings.ToLower(strings.TrimSpace(value))
	if subdomain == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "subdomain is required")
	}
	if IsReserved(subdomain) {
		return Result{Value: subdomain, Available: false, Reason: "reserved"}, nil
	}
	var dirLookup func(context.Context, string) (bool, error)
	if c.directory != nil {
		dirLookup = c.directory.SubdomainTaken
	}
	return c.check(ctx, "subdomain:"+subdomain, subdomain, exclude, c.source.SubdomainInUse, dirLookup)
}

// Email reports whether an address is free to register with.
func (c *Checker) Email(ctx context.Context, value string, exclude id.SessionID) (Result, error) {
	address := emailutil.Normalize(value)
	if address == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	var dirLookup func(context.Context, string) (bool, error)
	if c.directory != nil {
		dirLookup = c.directory.EmailTaken
	}
	return c.check(ctx, "email:"+address, address, exclude, c.source.EmailInUse, dirLookup)
}

func (c *Checker) check(ctx context.Context, key, value string, exclude id.SessionID,
	lookup func(context.Context, string, id.SessionID) (bool, error),
	dirLookup func(context.Context, string) (bool, error)) (Result, error) {
	key = key + ":" + exclude.String()
	if result, ok := c.cached(key); ok {
		return result, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// The closure runs once for every coalesced caller. Detach it
		// from the first caller's request so one browser abort does not
		// fail the waiters that piled on.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		inUse, err := lookup(ctx, value, exclude)
		if err != nil {
			return Result{}, err
		}
		if !inUse && dirLookup != nil {
			if inUse, err = dirLookup(ctx, value); err != nil {
				return Result{}, err
			}
		}
		result := Result{Value: value, Available: !inUse}
		if inUse {
			result.Reason = "taken"
		}
		c.store(key, result)
		return result, nil
	})
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "availability lookup failed")
	}
	return v.(Result), nil
}

func (c *Checker) cached(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.cache, key)
		return Result{}, false
	}
	return entry.result, true
}

func (c *Checker) store(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{result: result, expiresAt: c.now().Add(c.ttl)}
}
