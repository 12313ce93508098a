package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/backend/backendtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackend_Conformance(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		backendtest.Run(t, func(t *testing.T) (tbf.FileSystem, error) {
			return NewSQLiteBackend(":memory:")
		})
	})

	t.Run("File", func(t *testing.T) {
		backendtest.Run(t, func(t *testing.T) (tbf.FileSystem, error) {
			return NewSQLiteBackend(filepath.Join(t.TempDir(), "tbf.db"))
		})
	})
}

func TestSQLiteBackend_Restart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tbf.db")
	tag := tbf.NewTag(tbf.CustomGroup("g"), "b")

	first, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, first.Open(t.Context()))

	id, err := first.AddFile(t.Context(), []byte{0, 1, 2, 3}, []tbf.Tag{tbf.DefaultTag("a"), tag})
	require.NoError(t, err)
	assert.Equal(t, tbf.FirstFileId, id)

	removed, err := first.AddFile(t.Context(), []byte("removed"), nil)
	require.NoError(t, err)
	require.NoError(t, first.RemoveFile(t.Context(), removed))
	require.NoError(t, first.Close(t.Context()))

	second, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, second.Open(t.Context()))
	t.Cleanup(func() {
		second.Close(context.Background())
	})

	info, err := second.GetInfo(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, info.Data())
	assert.Equal(t, []tbf.Tag{tbf.DefaultTag("a"), tag}, info.Tags())

	ids, err := second.SearchTags(t.Context(), tag)
	require.NoError(t, err)
	assert.Equal(t, []tbf.FileId{id}, ids)

	next, err := second.AddFile(t.Context(), nil, nil)
	require.NoError(t, err)
	assert.Greater(t, next, removed)
}

func TestSQLiteBackend_CloseCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tbf.db")

	sb, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, sb.Open(t.Context()))

	_, err = sb.AddFile(t.Context(), []byte("x"), []tbf.Tag{tbf.DefaultTag("a")})
	require.NoError(t, err)

	require.NoError(t, sb.Close(t.Context()))
	require.NoError(t, sb.Close(t.Context()))

	if info, err := os.Stat(path + "-wal"); err == nil {
		assert.Zero(t, info.Size(), "write-ahead log should be empty after close")
	}
}

func TestSQLiteBackend_NotOpen(t *testing.T) {
	sb, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)

	_, err = sb.SearchTags(t.Context(), tbf.And())
	assert.ErrorIs(t, err, tbf.ErrNotOpen)
}

func TestSQLiteBackend_Capabilities(t *testing.T) {
	memory, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	assert.False(t, memory.GetCapabilities().Contains(tbf.CapabilityPersistent))
	assert.True(t, memory.GetCapabilities().Contains(tbf.CapabilityAtomicAdd))

	file, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "tbf.db"))
	require.NoError(t, err)
	assert.True(t, file.GetCapabilities().Contains(tbf.CapabilityPersistent))
}
