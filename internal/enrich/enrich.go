// Package enrich looks up company profiles off the reconciliation path and
// stores them next to the canonical postings.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/jobdedup/internal/cache"
	"horse.fit/jobdedup/internal/posting"
)

const (
	enrichKeyPrefix = "enrich:"
	defaultCacheTTL = 7 * 24 * time.Hour
)

// Profile is what an enricher knows about a company.
type Profile struct {
	Name     string `json:"name"`
	Summary  string `json:"summary"`
	Industry string `json:"industry"`
	Size     string `json:"size"`
	Website  string `json:"website"`
}

func (p Profile) IsZero() bool {
	return p == Profile{}
}

// Enricher describes a company. company.Key is the normalized company key,
// company.Name the display name as observed.
type Enricher interface {
	Enrich(ctx context.Context, company posting.Company) (Profile, error)
}

type EnricherFunc func(ctx context.Context, company posting.Company) (Profile, error)

func (f EnricherFunc) Enrich(ctx context.Context, company posting.Company) (Profile, error) {
	return f(ctx, company)
}

// Cached puts a TTL cache in front of another Enricher. Failed lookups are
// not cached.
type Cached struct {
	inner  Enricher
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCached(inner Enricher, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func (c *Cached) Enrich(ctx context.Context, company posting.Company) (Profile, error) {
	key := enrichKeyPrefix + cacheKey(company)

	var cached Profile
	hit, err := c.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("enrichment cache read failed")
	}
	if hit {
		return cached, nil
	}

	profile, err := c.inner.Enrich(ctx, company)
	if err != nil {
		return Profile{}, err
	}
	if err := c.cache.SetJSON(ctx, key, profile, c.ttl); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("enrichment cache write failed")
	}
	return profile, nil
}

func cacheKey(company posting.Company) string {
	if key := strings.TrimSpace(company.Key); key != "" {
		return key
	}
	return posting.FoldText(company.Name)
}

// ToCompany merges a profile into the company row it describes.
func ToCompany(company posting.Company, p Profile, now time.Time) posting.Company {
	out := company
	if strings.TrimSpace(out.Name) == "" {
		out.Name = strings.TrimSpace(p.Name)
	}
	out.Summary = strings.TrimSpace(p.Summary)
	out.Industry = strings.TrimSpace(p.Industry)
	out.Size = strings.TrimSpace(p.Size)
	if website := strings.TrimSpace(p.Website); website != "" {
		out.Website = website
	}
	out.EnrichedAt = now.UTC()
	return out
}

func validate(company posting.Company) error {
	if strings.TrimSpace(company.Key) == "" {
		return fmt.Errorf("company key is required")
	}
	return nil
}
