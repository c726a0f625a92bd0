package web

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solemart/storefront/internal/cart"
	"github.com/solemart/storefront/internal/domain"
	"github.com/solemart/storefront/internal/persist"
)

// slowSnapshots stalls Get to widen the restore window.
type slowSnapshots struct {
	delay time.Duration
	state *persist.State
}

func (s *slowSnapshots) Get(context.Context, string) (*persist.State, error) {
	time.Sleep(s.delay)
	return s.state, nil
}

func (s *slowSnapshots) Set(context.Context, string, *persist.State) error { return nil }

func (s *slowSnapshots) Delete(context.Context, string) error { return nil }

func TestSessions_ConcurrentFirstAccessWaitsForRestore(t *testing.T) {
	snaps := &slowSnapshots{
		delay: 50 * time.Millisecond,
		state: &persist.State{
			Handle:      "cart-9",
			CheckoutURL: "https://shop.example/checkout/cart-9",
			Items: []domain.LineItem{
				{VariantID: "v1", Quantity: 2, Price: domain.Money{Amount: "10.00", CurrencyCode: "USD"}},
			},
		},
	}
	sessions := NewSessions(func(sessionID string) *cart.Store {
		return cart.New(newStubGateway(),
			cart.WithDebounce(0),
			cart.WithSnapshots(snaps, sessionID),
			cart.WithLogger(testLogger()))
	}, testLogger())
	t.Cleanup(sessions.Close)

	// Both first requests must come back with the restored cart, even
	// the one that did not run the restore itself.
	var wg sync.WaitGroup
	stores := make([]*cart.Store, 2)
	lens := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i] = sessions.Cart(context.Background(), "session-1")
			lens[i] = stores[i].Len()
		}(i)
	}
	wg.Wait()

	assert.Same(t, stores[0], stores[1])
	assert.Equal(t, 2, lens[0], "cart handed out before restore finished")
	assert.Equal(t, 2, lens[1], "cart handed out before restore finished")

	handle, ok := stores[0].RemoteHandle()
	require.True(t, ok)
	assert.Equal(t, "cart-9", handle)
}
