package persist

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solemart/storefront/internal/domain"
)

func setupTestRedis(t *testing.T) *RedisSnapshots {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSnapshots(client)
}

func TestSnapshots_RoundTrip(t *testing.T) {
	snaps := setupTestRedis(t)
	ctx := context.Background()

	state := &State{
		Handle:      "gid://shopify/Cart/abc",
		CheckoutURL: "https://shop.example/checkout/abc",
		Items: []domain.LineItem{
			{
				VariantID: "v1",
				Quantity:  2,
				Price:     domain.Money{Amount: "10.00", CurrencyCode: "USD"},
				Product:   domain.ProductSnapshot{ProductID: "p1", Title: "Tee"},
			},
		},
	}

	require.NoError(t, snaps.Set(ctx, "session-1", state))

	got, err := snaps.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, state.Handle, got.Handle)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "v1", got.Items[0].VariantID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, "Tee", got.Items[0].Product.Title)
}

func TestSnapshots_GetMissing(t *testing.T) {
	snaps := setupTestRedis(t)

	_, err := snaps.Get(context.Background(), "no-such-session")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshots_Delete(t *testing.T) {
	snaps := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, snaps.Set(ctx, "session-1", &State{Items: nil}))
	require.NoError(t, snaps.Delete(ctx, "session-1"))

	_, err := snaps.Get(ctx, "session-1")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent snapshot is not an error.
	require.NoError(t, snaps.Delete(ctx, "session-1"))
}
