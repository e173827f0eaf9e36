package ctxval_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/nguyentranbao-ct/storefront-cart/pkg/ctxval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields(t *testing.T) {
	t.Parallel()

	t.Run("set and read back", func(t *testing.T) {
		ctx := ctxval.Wrap(context.Background())
		ctxval.Set(ctx, "cart_mode", "local")
		ctxval.Set(ctx, "user_id", "u1")

		mode, ok := ctxval.Get(ctx, "cart_mode")
		require.True(t, ok)
		assert.Equal(t, "local", mode)

		f, ok := ctxval.From(ctx)
		require.True(t, ok)
		assert.Equal(t, []interface{}{"cart_mode", "local", "user_id", "u1"}, f.KeysAndValues())
	})

	t.Run("overwrite keeps position", func(t *testing.T) {
		ctx := ctxval.Wrap(context.Background())
		ctxval.Set(ctx, "cart_mode", "local")
		ctxval.Set(ctx, "user_id", "u1")
		ctxval.Set(ctx, "cart_mode", "remote")

		f, _ := ctxval.From(ctx)
		assert.Equal(t, []interface{}{"cart_mode", "remote", "user_id", "u1"}, f.KeysAndValues())
	})

	t.Run("unwrapped context ignores writes", func(t *testing.T) {
		ctx := context.Background()
		ctxval.Set(ctx, "cart_mode", "local")
		_, ok := ctxval.Get(ctx, "cart_mode")
		assert.False(t, ok)
		_, ok = ctxval.From(ctx)
		assert.False(t, ok)
	})

	t.Run("empty key is ignored", func(t *testing.T) {
		ctx := ctxval.Wrap(context.Background())
		ctxval.Set(ctx, "", "x")
		f, _ := ctxval.From(ctx)
		assert.Empty(t, f.KeysAndValues())
	})

	t.Run("wrap twice shares fields", func(t *testing.T) {
		ctx := ctxval.Wrap(context.Background())
		inner := ctxval.Wrap(context.WithValue(ctx, struct{}{}, "x"))
		ctxval.Set(inner, "user_id", "u2")

		v, ok := ctxval.Get(ctx, "user_id")
		require.True(t, ok)
		assert.Equal(t, "u2", v)
	})

	t.Run("derived context writes reach the request fields", func(t *testing.T) {
		ctx := ctxval.Wrap(context.Background())
		child, cancel := context.WithCancel(ctx)
		defer cancel()
		ctxval.Set(child, "cart_mode", "remote")

		v, _ := ctxval.Get(ctx, "cart_mode")
		assert.Equal(t, "remote", v)
	})
}

func TestFieldsConcurrentWrites(t *testing.T) {
	t.Parallel()
	ctx := ctxval.Wrap(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctxval.Set(ctx, fmt.Sprintf("field_%d", i%10), i)
			_, _ = ctxval.Get(ctx, "cart_mode")
		}(i)
	}
	wg.Wait()

	f, _ := ctxval.From(ctx)
	assert.Len(t, f.KeysAndValues(), 20)
}
