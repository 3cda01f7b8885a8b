package mauzr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	t.Run("set get delete", func(t *testing.T) {
		s := NewMemoryStore()

		_, ok, err := s.Get("a")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set("a", []byte{1, 2}))
		v, ok, err := s.Get("a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte{1, 2}, v)

		require.NoError(t, s.Delete("a"))
		require.NoError(t, s.Delete("missing"))
		assert.Equal(t, 0, s.Count())
	})

	t.Run("values are copied", func(t *testing.T) {
		s := NewMemoryStore()
		in := []byte{1}
		require.NoError(t, s.Set("a", in))
		in[0] = 9

		v, _, _ := s.Get("a")
		assert.Equal(t, []byte{1}, v)

		v[0] = 7
		items, err := s.Items()
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, items["a"])
	})

	t.Run("sync is counted", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Sync())
		require.NoError(t, s.Sync())
		assert.Equal(t, 2, s.Syncs())
	})

	t.Run("closed store", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Close())

		_, _, err := s.Get("a")
		assert.ErrorIs(t, err, ErrStoreClosed)
		assert.ErrorIs(t, s.Set("a", nil), ErrStoreClosed)
		assert.ErrorIs(t, s.Delete("a"), ErrStoreClosed)
		assert.ErrorIs(t, s.Sync(), ErrStoreClosed)
		_, err = s.Items()
		assert.ErrorIs(t, err, ErrStoreClosed)
	})

	t.Run("reopen keeps values", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set("a", []byte("x")))
		require.NoError(t, s.Close())

		r := s.Reopen()
		v, ok, err := r.Get("a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("x"), v)
	})
}
