// Package providertest checks a provider.Provider against the contract the
// persist package relies on.
package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pr "github.com/unkn0wn-root/gqlcache/provider"
)

// Options disable checks a store cannot honor.
type Options struct {
	// NoTTL skips expiry checks (bigcache only has a global life window).
	NoTTL bool
}

// Run exercises p. It does not Close p.
func Run(t *testing.T, p pr.Provider, opts Options) {
	t.Helper()
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		b, ok, err := p.Get(ctx, "snapshot:missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, b)
	})

	t.Run("transparent", func(t *testing.T) {
		want := []byte{0x00, 0x01, 0xff, 'g', 'q', 'l', 0x00}
		ok, err := p.Set(ctx, "snapshot:bytes", want, int64(len(want)), 0)
		require.NoError(t, err)
		require.True(t, ok)

		got, ok, err := p.Get(ctx, "snapshot:bytes")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("overwrite and delete", func(t *testing.T) {
		_, err := p.Set(ctx, "snapshot:k", []byte("one"), 3, 0)
		require.NoError(t, err)
		_, err = p.Set(ctx, "snapshot:k", []byte("two"), 3, 0)
		require.NoError(t, err)

		got, ok, err := p.Get(ctx, "snapshot:k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "two", string(got))

		require.NoError(t, p.Del(ctx, "snapshot:k"))
		_, ok, err = p.Get(ctx, "snapshot:k")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, p.Del(ctx, "snapshot:never-set"))
	})

	if opts.NoTTL {
		return
	}
	t.Run("ttl", func(t *testing.T) {
		_, err := p.Set(ctx, "snapshot:ttl", []byte("x"), 1, 50*time.Millisecond)
		require.NoError(t, err)
		_, ok, err := p.Get(ctx, "snapshot:ttl")
		require.NoError(t, err)
		require.True(t, ok)

		assert.Eventually(t, func() bool {
			_, ok, _ := p.Get(ctx, "snapshot:ttl")
			return !ok
		}, 2*time.Second, 10*time.Millisecond)
	})
}
