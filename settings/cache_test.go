package settings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbox/models"
	"feedbox/settings"
)

type fakeStore struct {
	values map[string]string
	reads  int
	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]string)}
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (models.Setting, error) {
	f.reads++
	value, ok := f.values[key]
	if !ok {
		return models.Setting{}, models.ErrNotFound
	}
	return models.Setting{Key: key, Value: value}, nil
}

func (f *fakeStore) UpsertSetting(ctx context.Context, key, value, description string) error {
	f.writes++
	f.values[key] = value
	return nil
}

func TestGetCachesWithinWindow(t *testing.T) {
	store := newFakeStore()
	store.values["greeting"] = "hello"
	cache := settings.NewCache(store)

	for i := 0; i < 5; i++ {
		value, err := cache.Get(context.Background(), "greeting")
		require.NoError(t, err)
		assert.Equal(t, "hello", value)
	}

	assert.Equal(t, 1, store.reads, "repeated reads within the freshness window should hit the store once")
}

func TestGetMissingKey(t *testing.T) {
	cache := settings.NewCache(newFakeStore())

	_, err := cache.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	store.values["greeting"] = "hello"
	cache := settings.NewCache(store)

	_, err := cache.Get(context.Background(), "greeting")
	require.NoError(t, err)

	require.NoError(t, cache.Set(context.Background(), "greeting", "goodbye", ""))

	value, err := cache.Get(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Equal(t, "goodbye", value)
	assert.Equal(t, 2, store.reads, "a write should evict the entry so the next read refills from the store")
}

func TestInterval(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		expected int
	}{
		{
			name:     "missing value falls back to default",
			stored:   "",
			expected: settings.DefaultIntervalMinutes,
		},
		{
			name:     "valid value",
			stored:   "30",
			expected: 30,
		},
		{
			name:     "non-numeric value falls back to default",
			stored:   "soon",
			expected: settings.DefaultIntervalMinutes,
		},
		{
			name:     "below range falls back to default",
			stored:   "0",
			expected: settings.DefaultIntervalMinutes,
		},
		{
			name:     "above range falls back to default",
			stored:   "1441",
			expected: settings.DefaultIntervalMinutes,
		},
		{
			name:     "boundary minimum",
			stored:   "1",
			expected: 1,
		},
		{
			name:     "boundary maximum",
			stored:   "1440",
			expected: 1440,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			if tt.stored != "" {
				store.values[settings.KeyInterval] = tt.stored
			}
			cache := settings.NewCache(store)

			assert.Equal(t, tt.expected, cache.Interval(context.Background()))
		})
	}
}

func TestSetIntervalRejectsOutOfRange(t *testing.T) {
	store := newFakeStore()
	store.values[settings.KeyInterval] = "30"
	cache := settings.NewCache(store)

	for _, minutes := range []int{0, -5, 1441, 100000} {
		err := cache.SetInterval(context.Background(), minutes)
		var cfgErr *models.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	}

	assert.Equal(t, 0, store.writes, "rejected intervals must not reach the store")
	assert.Equal(t, 30, cache.Interval(context.Background()))
}

func TestSetIntervalRoundTrip(t *testing.T) {
	store := newFakeStore()
	cache := settings.NewCache(store)

	require.NoError(t, cache.SetInterval(context.Background(), 15))
	assert.Equal(t, "15", store.values[settings.KeyInterval])
	assert.Equal(t, 15, cache.Interval(context.Background()))
}

func TestInitializeDefaults(t *testing.T) {
	t.Run("seeds missing interval", func(t *testing.T) {
		store := newFakeStore()
		cache := settings.NewCache(store)

		require.NoError(t, cache.InitializeDefaults(context.Background()))
		assert.Equal(t, "60", store.values[settings.KeyInterval])
	})

	t.Run("keeps existing interval", func(t *testing.T) {
		store := newFakeStore()
		store.values[settings.KeyInterval] = "120"
		cache := settings.NewCache(store)

		require.NoError(t, cache.InitializeDefaults(context.Background()))
		assert.Equal(t, "120", store.values[settings.KeyInterval])
	})
}
