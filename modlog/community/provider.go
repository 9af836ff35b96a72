package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/sushiibot/modledger/modlog/cachestore"

	"gorm.io/gorm"
)

// Provider supplies community configuration. Communities without a stored configuration get DefaultConfig.
type Provider interface {
	GetConfig(ctx context.Context, communityID uint64) (*Config, error)
}

// StaticProvider serves configuration from memory.
type StaticProvider struct {
	lk      sync.RWMutex
	configs map[uint64]Config
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(configs ...Config) *StaticProvider {
	p := &StaticProvider{configs: make(map[uint64]Config, len(configs))}
	for _, c := range configs {
		p.configs[c.CommunityID] = c
	}
	return p
}

func (p *StaticProvider) Put(c Config) {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.configs[c.CommunityID] = c
}

func (p *StaticProvider) GetConfig(ctx context.Context, communityID uint64) (*Config, error) {
	p.lk.RLock()
	defer p.lk.RUnlock()
	c, ok := p.configs[communityID]
	if !ok {
		return DefaultConfig(communityID), nil
	}
	return &c, nil
}

// GormSource reads configuration rows from the shared database. The rows are written by other parts of the bot.
type GormSource struct {
	db *gorm.DB
}

var _ Provider = (*GormSource)(nil)

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

func (s *GormSource) Migrate() error {
	return s.db.AutoMigrate(&Config{})
}

func (s *GormSource) GetConfig(ctx context.Context, communityID uint64) (*Config, error) {
	var c Config
	err := s.db.WithContext(ctx).Where("community_id = ?", communityID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultConfig(communityID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching community config: %w", err)
	}
	return &c, nil
}

const cacheName = "community-config"

// CachedProvider is a read-through cache in front of another Provider.
//
// Writers of configuration must call Invalidate after changing a community's settings.
type CachedProvider struct {
	Source Provider
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

var _ Provider = (*CachedProvider)(nil)

func NewCachedProvider(source Provider, cache cachestore.CacheStore, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{
		Source: source,
		Cache:  cache,
		Logger: logger.With("component", "community-config"),
	}
}

func (p *CachedProvider) GetConfig(ctx context.Context, communityID uint64) (*Config, error) {
	key := strconv.FormatUint(communityID, 10)
	cached, err := cachestore.GetJSON[Config](ctx, p.Cache, cacheName, key)
	if err == nil {
		configCacheHits.Inc()
		return cached, nil
	}
	if !errors.Is(err, cachestore.ErrMiss) {
		// a broken cache degrades to reading the source directly
		p.Logger.Warn("reading community config from cache", "community", communityID, "err", err)
	}
	configCacheMisses.Inc()

	c, err := p.Source.GetConfig(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if err := cachestore.SetJSON(ctx, p.Cache, cacheName, key, c); err != nil {
		p.Logger.Warn("writing community config to cache", "community", communityID, "err", err)
	}
	return c, nil
}

func (p *CachedProvider) Invalidate(ctx context.Context, communityID uint64) error {
	return p.Cache.Purge(ctx, cacheName, strconv.FormatUint(communityID, 10))
}
