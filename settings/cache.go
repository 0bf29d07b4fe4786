// Package settings provides a cached view over the persisted key/value
// configuration table.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"feedbox/models"
)

// KeyInterval holds the polling interval in minutes.
const KeyInterval = "sync_interval_minutes"

const (
	DefaultIntervalMinutes = 60
	MinIntervalMinutes     = 1
	MaxIntervalMinutes     = 1440
)

const cacheTTL = 5 * time.Minute

const intervalDescription = "Minutes between scheduled full feed updates"

// Store is the persistence surface the cache sits on.
type Store interface {
	GetSetting(ctx context.Context, key string) (models.Setting, error)
	UpsertSetting(ctx context.Context, key, value, description string) error
}

type entry struct {
	value   string
	expires time.Time
}

// Cache serves setting reads from time-boxed in-memory entries and evicts on
// write. It is an explicit instance passed to its consumers, safe for
// concurrent use.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:   store,
		ttl:     cacheTTL,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the current value for key, preferring a cached copy younger
// than the freshness window.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	setting, err := c.store.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: setting.Value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return setting.Value, nil
}

// Set writes through to the store first and then evicts the cache entry.
// The entry is evicted rather than overwritten so the next read refills it
// from the store.
func (c *Cache) Set(ctx context.Context, key, value, description string) error {
	if err := c.store.UpsertSetting(ctx, key, value, description); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Interval returns the polling interval in minutes, falling back to the
// default when the value is missing or unusable.
func (c *Cache) Interval(ctx context.Context) int {
	raw, err := c.Get(ctx, KeyInterval)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.WithFields(log.Fields{"error": err}).Warn("Failed to read interval setting, using default")
		}
		return DefaultIntervalMinutes
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		log.WithFields(log.Fields{"value": raw}).Warn("Stored interval out of range, using default")
		return DefaultIntervalMinutes
	}
	return minutes
}

// SetInterval stores a new polling interval. Values outside [1, 1440] are
// rejected with ConfigError and the stored value is left unchanged.
func (c *Cache) SetInterval(ctx context.Context, minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return &models.ConfigError{
			Key:    KeyInterval,
			Reason: fmt.Sprintf("interval must be between %d and %d minutes, got %d", MinIntervalMinutes, MaxIntervalMinutes, minutes),
		}
	}
	return c.Set(ctx, KeyInterval, strconv.Itoa(minutes), intervalDescription)
}

// InitializeDefaults seeds well-known settings that are absent. Existing
// values are left untouched.
func (c *Cache) InitializeDefaults(ctx context.Context) error {
	_, err := c.store.GetSetting(ctx, KeyInterval)
	if errors.Is(err, models.ErrNotFound) {
		return c.Set(ctx, KeyInterval, strconv.Itoa(DefaultIntervalMinutes), intervalDescription)
	}
	return err
}
