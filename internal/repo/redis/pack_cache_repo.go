package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

const packCacheKey = "cache:coin_packs:active"

// PackCacheRepo caches the active coin pack list as one JSON blob. A stale
// list only delays catalog edits by the TTL; purchases snapshot the pack at
// create time, so staleness never changes what a purchase credits.
type PackCacheRepo struct {
	client *goredis.Client
}

type CachedPack struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Coins       int64  `json:"coins"`
	Currency    string `json:"currency"`
	PriceAmount int64  `json:"price_amount"`
	Tag         string `json:"tag,omitempty"`
}

func NewPackCacheRepo(client *goredis.Client) *PackCacheRepo {
	return &PackCacheRepo{client: client}
}

func (r *PackCacheRepo) GetActive(ctx context.Context) ([]CachedPack, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	raw, err := r.client.Get(ctx, packCacheKey).Bytes()
	if err == goredis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get pack cache: %w", err)
	}

	var packs []CachedPack
	if err := json.Unmarshal(raw, &packs); err != nil {
		// Treat a corrupt blob as a miss; the next SetActive repairs it.
		return nil, ErrCacheMiss
	}
	return packs, nil
}

func (r *PackCacheRepo) SetActive(ctx context.Context, packs []CachedPack, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid pack cache ttl")
	}
	if packs == nil {
		packs = []CachedPack{}
	}

	raw, err := json.Marshal(packs)
	if err != nil {
		return fmt.Errorf("marshal pack cache: %w", err)
	}
	if err := r.client.Set(ctx, packCacheKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set pack cache: %w", err)
	}
	return nil
}

func (r *PackCacheRepo) Invalidate(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, packCacheKey).Err(); err != nil {
		return fmt.Errorf("invalidate pack cache: %w", err)
	}
	return nil
}
