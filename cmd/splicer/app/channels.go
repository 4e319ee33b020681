package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openvideo-live/splicer/pkg/storage"
)

// Insertion modes. A channel in auto mode gets per-request client detection;
// the chosen mode is pinned for the life of a break.
const (
	ModeAuto = "auto"
	ModeSSAI = "ssai"
	ModeSGAI = "sgai"
)

const channelCacheTTL = 5 * time.Second

// ChannelConfig is the persistent per-channel configuration. Unknown JSON
// keys are ignored.
type ChannelConfig struct {
	Org  string `json:"org"`
	Slug string `json:"slug"`

	OriginURL   string `json:"originUrl"`
	SigningHost string `json:"signingHost,omitempty"`

	Mode       string `json:"mode"` // auto|ssai|sgai
	SlatePodID string `json:"slatePodId"`
	VASTURL    string `json:"vastUrl,omitempty"`

	SCTE35AutoInsert    bool   `json:"scte35AutoInsert"`
	TimeBasedAutoInsert bool   `json:"timeBasedAutoInsert"`
	TimeBasedCron       string `json:"timeBasedCron,omitempty"`

	DefaultAdDurationSec float64 `json:"defaultAdDurationSec"`
	Tier                 uint32  `json:"tier"`

	// BitrateLadder is auto (derived from the master playlist) or manual.
	BitrateLadder       string  `json:"bitrateLadder,omitempty"`
	ManualBitrates      []int64 `json:"manualBitrates,omitempty"`
	PlaylistMaxAgeS     int     `json:"playlistMaxAgeS,omitempty"`
	InterstitialControl string  `json:"interstitialControl,omitempty"` // X-RESTRICT value
}

func (c *ChannelConfig) key() string {
	return c.Org + "/" + c.Slug
}

func channelStoreKey(org, slug string) string {
	return fmt.Sprintf("channels/%s/%s.json", org, slug)
}

// ChannelStore reads channel configs from the object store through a short
// TTL cache, with explicit invalidation on config writes.
type ChannelStore struct {
	store storage.ObjectStore
	cache *storage.TTLCache[*ChannelConfig]
}

func NewChannelStore(store storage.ObjectStore) *ChannelStore {
	return &ChannelStore{
		store: store,
		cache: storage.NewTTLCache[*ChannelConfig](channelCacheTTL),
	}
}

// Get returns the channel config or storage.ErrNotFound.
func (cs *ChannelStore) Get(ctx context.Context, org, slug string) (*ChannelConfig, error) {
	cacheKey := org + "/" + slug
	if cfg, ok := cs.cache.Get(cacheKey); ok {
		return cfg, nil
	}
	body, err := cs.store.Get(ctx, channelStoreKey(org, slug))
	if err != nil {
		return nil, err
	}
	var cfg ChannelConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("channel %s/%s: %w", org, slug, err)
	}
	if cfg.Org == "" {
		cfg.Org = org
	}
	if cfg.Slug == "" {
		cfg.Slug = slug
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.DefaultAdDurationSec == 0 {
		cfg.DefaultAdDurationSec = 30
	}
	cs.cache.Set(cacheKey, &cfg)
	return &cfg, nil
}

// Put writes a channel config and invalidates the cache entry.
func (cs *ChannelStore) Put(ctx context.Context, cfg *ChannelConfig) error {
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := cs.store.Put(ctx, channelStoreKey(cfg.Org, cfg.Slug), body); err != nil {
		return err
	}
	cs.cache.Invalidate(cfg.key())
	return nil
}

// Invalidate drops the cached entry, used when an external config change
// signal arrives.
func (cs *ChannelStore) Invalidate(org, slug string) {
	cs.cache.Invalidate(org + "/" + slug)
}
