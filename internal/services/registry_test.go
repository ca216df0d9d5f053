package services

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	client := &fakeClient{}

	require.NoError(t, r.Register("bot-1", client))

	got, ok := r.Lookup("bot-1")
	require.True(t, ok)
	assert.Same(t, client, got.(*fakeClient))
	assert.Equal(t, 1, r.Len())

	r.Unregister("bot-1")
	_, ok = r.Lookup("bot-1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistryRejectsDuplicateHandle(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("bot-1", &fakeClient{}))
	assert.ErrorIs(t, r.Register("bot-1", &fakeClient{}), ErrDuplicateHandle)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryUnregisterMissingIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Unregister("never-registered") })
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			botID := fmt.Sprintf("bot-%d", i)
			require.NoError(t, r.Register(botID, &fakeClient{}))
			_, ok := r.Lookup(botID)
			assert.True(t, ok)
			if i%2 == 0 {
				r.Unregister(botID)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 32, r.Len())

	seen := 0
	r.Range(func(string, transport.Client) { seen++ })
	assert.Equal(t, 32, seen)
}
