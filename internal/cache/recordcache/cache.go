// Package recordcache caches whole-table record snapshots in Redis.
//
// Keys are versioned per table: rec:<table>:v<version>:o=<hash of the
// normalized list options>. Invalidation bumps the version counter so every
// snapshot of the table goes stale at once, without scanning keys.
// The cache is best-effort: any Redis failure degrades to a miss.
package recordcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/geogismaps/geogrid/internal/cache/redisstore"
	"github.com/geogismaps/geogrid/internal/observability"
	"github.com/geogismaps/geogrid/internal/store"
)

type Cache struct {
	logger *slog.Logger
	cli    *redisstore.Client
	ttl    time.Duration
}

func New(logger *slog.Logger, cli *redisstore.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{logger: logger, cli: cli, ttl: ttl}
}

func versionKey(tableID string) string {
	return "recver:" + sanitize(tableID)
}

func optsHash(opts store.ListOptions) uint64 {
	norm := fmt.Sprintf("limit=%d|offset=%d|filter=%s|sort=%s",
		opts.Limit, opts.Offset,
		strings.Join(strings.Fields(opts.Filter), " "),
		strings.TrimSpace(opts.Sort))
	return xxhash.Sum64String(norm)
}

func (c *Cache) snapshotKey(ctx context.Context, tableID string, opts store.ListOptions) (string, error) {
	ver, err := c.cli.Get(ctx, versionKey(tableID))
	if err != nil {
		return "", err
	}
	v := "0"
	if ver != nil {
		v = string(ver)
	}
	return fmt.Sprintf("rec:%s:v%s:o=%016x", sanitize(tableID), v, optsHash(opts)), nil
}

// Get returns the cached snapshot and whether it was found. Errors degrade
// to a miss.
func (c *Cache) Get(ctx context.Context, tableID string, opts store.ListOptions) ([]store.Record, bool) {
	key, err := c.snapshotKey(ctx, tableID, opts)
	if err != nil {
		c.logger.Warn("record cache read degraded to miss", "table", tableID, "err", err)
		observability.IncCacheMiss()
		return nil, false
	}
	raw, err := c.cli.Get(ctx, key)
	if err != nil {
		c.logger.Warn("record cache read degraded to miss", "table", tableID, "err", err)
		observability.IncCacheMiss()
		return nil, false
	}
	if raw == nil {
		observability.IncCacheMiss()
		return nil, false
	}
	var records []store.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		c.logger.Warn("record cache payload corrupt, dropping", "table", tableID, "err", err)
		_ = c.cli.Del(ctx, key)
		observability.IncCacheMiss()
		return nil, false
	}
	observability.IncCacheHit()
	return records, true
}

func (c *Cache) Put(ctx context.Context, tableID string, opts store.ListOptions, records []store.Record) {
	key, err := c.snapshotKey(ctx, tableID, opts)
	if err != nil {
		c.logger.Warn("record cache write skipped", "table", tableID, "err", err)
		return
	}
	raw, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("record cache encode failed", "table", tableID, "err", err)
		return
	}
	if err := c.cli.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("record cache write failed", "table", tableID, "err", err)
	}
}

// Invalidate makes every cached snapshot of the table stale.
func (c *Cache) Invalidate(ctx context.Context, tableID string) error {
	if _, err := c.cli.Incr(ctx, versionKey(tableID)); err != nil {
		return fmt.Errorf("bump record cache version for %q: %w", tableID, err)
	}
	return nil
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == ':', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
