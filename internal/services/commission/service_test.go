package commission

import (
	"context"
	"testing"
	"time"

	"booking-payments/internal/domain/billing"
	"booking-payments/internal/repository"
	"booking-payments/internal/testutil"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryCache struct {
	values map[string][]byte
	sets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	data, ok := c.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (c *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.sets++
	c.values[key] = data
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	delete(c.values, key)
	return nil
}

func newService(t *testing.T, cache Cache) *Service {
	return NewService(
		repository.NewSettingsRepository(testutil.NewDB(t)),
		cache,
		Config{
			Default:  decimal.NewFromInt(3),
			Min:      decimal.NewFromInt(1),
			Max:      decimal.NewFromInt(10),
			CacheTTL: time.Minute,
		},
		zap.NewNop(),
	)
}

func TestCurrentUsesDefaultOnFirstAccess(t *testing.T) {
	svc := newService(t, nil)

	pct, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, pct.Equal(decimal.NewFromInt(3)))
}

func TestUpdateValidatesRange(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	for _, bad := range []string{"0.5", "10.01", "-1", "5.555"} {
		_, err := svc.Update(ctx, decimal.RequireFromString(bad))
		var verr *billing.ValidationError
		require.ErrorAs(t, err, &verr, bad)
		assert.Equal(t, "commissionPercentage", verr.Field)
	}

	setting, err := svc.Update(ctx, decimal.RequireFromString("4.25"))
	require.NoError(t, err)
	assert.True(t, setting.CommissionPercentage.Equal(decimal.RequireFromString("4.25")))

	pct, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.True(t, pct.Equal(decimal.RequireFromString("4.25")))
}

func TestCacheIsFilledAndInvalidated(t *testing.T) {
	cache := newMemoryCache()
	svc := newService(t, cache)
	ctx := context.Background()

	_, err := svc.Current(ctx)
	require.NoError(t, err)
	_, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "second read is served from cache")

	_, err = svc.Update(ctx, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Empty(t, cache.values)

	pct, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.True(t, pct.Equal(decimal.NewFromInt(5)))
}
