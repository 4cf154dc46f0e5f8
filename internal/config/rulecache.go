package config

import (
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/campaignsched/internal/model"
)

// RuleConfigCache memoizes LoadRuleConfig by path, for the long-running
// `serve --cron` process that reruns `schedule` on a fixed cadence: without
// it, every tick would re-read and re-parse the same rules YAML from disk.
// A short TTL (rather than loading once and holding forever) lets an
// operator edit the rules file and have it picked up without a restart.
type RuleConfigCache struct {
	c *cache.Cache
}

// NewRuleConfigCache builds a cache expiring entries after ttl, swept every
// 2*ttl. A non-positive ttl disables caching: every Load re-reads the file.
func NewRuleConfigCache(ttl time.Duration) *RuleConfigCache {
	if ttl <= 0 {
		return &RuleConfigCache{}
	}
	return &RuleConfigCache{c: cache.New(ttl, 2*ttl)}
}

// Load returns the rule config at path, parsing and caching it on a miss.
func (rc *RuleConfigCache) Load(path string) (*model.RuleConfig, error) {
	if rc.c == nil {
		return LoadRuleConfig(path)
	}
	if v, ok := rc.c.Get(path); ok {
		return v.(*model.RuleConfig), nil
	}
	cfg, err := LoadRuleConfig(path)
	if err != nil {
		return nil, err
	}
	rc.c.SetDefault(path, cfg)
	return cfg, nil
}
