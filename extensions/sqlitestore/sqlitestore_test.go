package sqlitestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eqrx/mauzr"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "agent")
	s, err := OpenDir(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, dir
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, dir := openTemp(t)
	assert.Equal(t, filepath.Join(dir, FileName), s.Path())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore(t *testing.T) {
	s, _ := openTemp(t)

	_, ok, err := s.Get("3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("3", []byte{0x32, 0x01}))
	require.NoError(t, s.Set("3", []byte{0x32, 0x02}))
	require.NoError(t, s.Set("empty", nil))

	v, ok, err := s.Get("3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x32, 0x02}, v)

	v, ok, err = s.Get("empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)

	items, err := s.Items()
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, s.Delete("3"))
	require.NoError(t, s.Delete("missing"))

	items, err = s.Items()
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"empty": {}}, items)

	require.NoError(t, s.Sync())
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenDir(dir)
	require.NoError(t, err)

	ledger := mauzr.NewLedger(s, nil)
	require.NoError(t, ledger.Open())

	id, err := ledger.Allocate()
	require.NoError(t, err)
	require.NoError(t, ledger.Store(id, []byte{0x32, 0x00}))
	require.NoError(t, ledger.StoreInbound(9, []byte{0x34, 0x00}))
	require.NoError(t, ledger.Close())

	reopened, err := OpenDir(dir)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	ledger = mauzr.NewLedger(reopened, nil)
	require.NoError(t, ledger.Open())

	entries, err := ledger.Replay()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].PacketID)
	assert.Equal(t, []byte{0x3a, 0x00}, entries[0].Data, "replayed publish carries DUP")

	held, ok, err := ledger.FetchInbound(9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x34, 0x00}, held)

	next, err := ledger.Allocate()
	require.NoError(t, err)
	assert.Equal(t, id+1, next)
}

func TestClosedStore(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err := s.Get("a")
	assert.ErrorIs(t, err, mauzr.ErrStoreClosed)
	assert.ErrorIs(t, s.Set("a", nil), mauzr.ErrStoreClosed)
	assert.ErrorIs(t, s.Delete("a"), mauzr.ErrStoreClosed)
	assert.ErrorIs(t, s.Sync(), mauzr.ErrStoreClosed)
	_, err = s.Items()
	assert.ErrorIs(t, err, mauzr.ErrStoreClosed)
}
