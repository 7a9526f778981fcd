package blockstore

import (
	"context"
	"time"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/jellydator/ttlcache/v3"
)

// CachedSource keeps recently fetched blocks. A reorg rewinds and re-advances over the
// same blocks, so the bodies are usually still cached when they are needed again.
type CachedSource struct {
	source Source
	ttl    time.Duration
	cache  *ttlcache.Cache[chainhash.Hash, *model.Block]
}

func NewCachedSource(source Source, ttl time.Duration, capacity int) *CachedSource {
	c := &CachedSource{
		source: source,
		ttl:    ttl,
		cache: ttlcache.New[chainhash.Hash, *model.Block](
			ttlcache.WithTTL[chainhash.Hash, *model.Block](ttl),
			ttlcache.WithCapacity[chainhash.Hash, *model.Block](uint64(max(capacity, 1))), //nolint:gosec // positive
			ttlcache.WithDisableTouchOnHit[chainhash.Hash, *model.Block](),
		),
	}

	// evict expired blocks in the background
	go c.cache.Start()

	return c
}

// GetBlock does not cache errors.
func (c *CachedSource) GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error) {
	if item := c.cache.Get(*hash); item != nil {
		return item.Value(), nil
	}

	block, err := c.source.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}

	c.cache.Set(*hash, block, c.ttl)

	return block, nil
}

func (c *CachedSource) Len() int {
	return c.cache.Len()
}

func (c *CachedSource) Stop() {
	c.cache.Stop()
}
