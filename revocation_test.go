package accounts_test

import (
	"sync"
	"testing"
	"time"

	accounts "github.com/praxishr/go-accounts"

	"github.com/stretchr/testify/assert"
)

func TestRevocationRegistry(t *testing.T) {
	registry := accounts.NewRevocationRegistry()

	assert.False(t, registry.IsRevoked("token-a"))

	registry.Revoke("token-a")
	assert.True(t, registry.IsRevoked("token-a"))
	assert.False(t, registry.IsRevoked("token-b"))

	// revoking twice is a no-op
	registry.Revoke("token-a")
	assert.Equal(t, 1, registry.Len())

	// empty tokens are ignored
	registry.Revoke("")
	assert.Equal(t, 1, registry.Len())
}

func TestRevocationRegistryConcurrentAccess(t *testing.T) {
	registry := accounts.NewRevocationRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		token := string(rune('a' + i))
		go func() {
			defer wg.Done()
			registry.Revoke(token)
		}()
		go func() {
			defer wg.Done()
			registry.IsRevoked(token)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, registry.Len())
}

func TestRevocationRegistryPrune(t *testing.T) {
	expiries := map[string]time.Duration{
		"live":    time.Hour,
		"expired": 0,
	}

	registry := accounts.NewRevocationRegistry(
		accounts.WithPruneExpiry(func(token string) time.Duration {
			return expiries[token]
		}, 0),
	)
	defer registry.Close()

	registry.Revoke("live")
	registry.Revoke("expired")
	assert.Equal(t, 2, registry.Len())

	removed := registry.Prune()
	assert.Equal(t, 1, removed)
	assert.True(t, registry.IsRevoked("live"))
	assert.False(t, registry.IsRevoked("expired"))
}

func TestRevocationRegistryPruneWithoutExpiryFn(t *testing.T) {
	registry := accounts.NewRevocationRegistry()
	registry.Revoke("token")

	assert.Equal(t, 0, registry.Prune())
	assert.True(t, registry.IsRevoked("token"))
}
