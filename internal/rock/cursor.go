package rock

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parishlabs/steeple/internal/cache"
)

// Cursor is an immutable, chainable description of an upstream query.
// Builder methods copy on extend so two cursors branched from the same base
// never share mutable state. No I/O happens until a terminal call.
type Cursor struct {
	client     *Client
	resource   string
	filters    []string
	expansions []string
	selects    []string
	orderField string
	orderDesc  bool
	topN       int
	skipN      int
	cacheTTL   time.Duration
	resolved   bool
}

// Empty returns a pre-resolved cursor whose result is always an empty slice.
// Call sites that determine up-front that no query should run (for example an
// unauthenticated caller) stay uniform with the regular query path.
func Empty() *Cursor {
	return &Cursor{resolved: true}
}

func (c *Cursor) clone() *Cursor {
	next := *c
	next.filters = append([]string(nil), c.filters...)
	next.expansions = append([]string(nil), c.expansions...)
	next.selects = append([]string(nil), c.selects...)
	return &next
}

// Filter appends a conjunctive predicate.
func (c *Cursor) Filter(predicate string) *Cursor {
	next := c.clone()
	next.filters = append(next.filters, predicate)
	return next
}

// AndFilter is an alias for Filter, kept for parity with upstream naming.
func (c *Cursor) AndFilter(predicate string) *Cursor {
	return c.Filter(predicate)
}

// FilterOneOf appends a disjunctive group, itself conjoined with existing
// filters. An empty group is a no-op.
func (c *Cursor) FilterOneOf(predicates []string) *Cursor {
	if len(predicates) == 0 {
		return c.clone()
	}
	wrapped := make([]string, 0, len(predicates))
	for _, predicate := range predicates {
		wrapped = append(wrapped, "("+predicate+")")
	}
	return c.Filter("(" + strings.Join(wrapped, " or ") + ")")
}

// Expand requests an upstream relation be inlined; repeatable.
func (c *Cursor) Expand(relationPath string) *Cursor {
	next := c.clone()
	next.expansions = append(next.expansions, relationPath)
	return next
}

// Select restricts the returned fields.
func (c *Cursor) Select(field string) *Cursor {
	next := c.clone()
	next.selects = append(next.selects, field)
	return next
}

// OrderBy sets the result ordering; last write wins.
func (c *Cursor) OrderBy(field, direction string) *Cursor {
	next := c.clone()
	next.orderField = field
	next.orderDesc = strings.EqualFold(direction, "desc")
	return next
}

// Top limits the page size; last write wins.
func (c *Cursor) Top(n int) *Cursor {
	next := c.clone()
	next.topN = n
	return next
}

// Skip offsets into the result set; last write wins.
func (c *Cursor) Skip(n int) *Cursor {
	next := c.clone()
	next.skipN = n
	return next
}

// Cache marks the eventual request as cacheable for ttl. The cache key is
// derived from the fully built request, so two structurally identical cursors
// share an entry.
func (c *Cursor) Cache(ttl time.Duration) *Cursor {
	next := c.clone()
	next.cacheTTL = ttl
	return next
}

// CacheKey is the deterministic identity of the built request.
func (c *Cursor) CacheKey() cache.Key {
	return cache.NewKey("rock", c.requestPath())
}

func (c *Cursor) requestPath() string {
	params := url.Values{}
	if len(c.filters) > 0 {
		conjuncts := make([]string, 0, len(c.filters))
		for _, filter := range c.filters {
			conjuncts = append(conjuncts, "("+filter+")")
		}
		params.Set("$filter", strings.Join(conjuncts, " and "))
	}
	if len(c.expansions) > 0 {
		params.Set("$expand", strings.Join(c.expansions, ","))
	}
	if len(c.selects) > 0 {
		params.Set("$select", strings.Join(c.selects, ","))
	}
	if c.orderField != "" {
		direction := "asc"
		if c.orderDesc {
			direction = "desc"
		}
		params.Set("$orderby", c.orderField+" "+direction)
	}
	if c.topN > 0 {
		params.Set("$top", strconv.Itoa(c.topN))
	}
	if c.skipN > 0 {
		params.Set("$skip", strconv.Itoa(c.skipN))
	}

	if len(params) == 0 {
		return c.resource
	}
	// Some helper endpoints carry their own query string.
	separator := "?"
	if strings.Contains(c.resource, "?") {
		separator = "&"
	}
	return c.resource + separator + params.Encode()
}

// Get executes the query and returns the matching records in upstream order.
// Zero matches yield an empty slice, never nil.
func (c *Cursor) Get(ctx context.Context) ([]Record, error) {
	if c.resolved {
		return []Record{}, nil
	}

	key := c.CacheKey()
	if c.cacheTTL > 0 && c.client.cache != nil {
		if cached, ok := c.client.cache.Get(key).([]Record); ok {
			return cached, nil
		}
	}

	records, err := c.client.list(ctx, c.requestPath())
	if err != nil {
		return nil, err
	}

	if c.cacheTTL > 0 && c.client.cache != nil {
		c.client.cache.Set(key, records, c.cacheTTL)
	}
	return records, nil
}

// First executes with an implicit Top(1) and returns the single record, or
// nil when nothing matches.
func (c *Cursor) First(ctx context.Context) (Record, error) {
	records, err := c.Top(1).Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Count executes the query and returns the number of matching records.
func (c *Cursor) Count(ctx context.Context) (int, error) {
	records, err := c.Select("Id").Get(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
