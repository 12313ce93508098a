package memory

import (
	"testing"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/backend/backendtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_Conformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) (tbf.FileSystem, error) {
		return NewMemoryBackend()
	})
}

func TestMemoryBackend_RemoveMissing(t *testing.T) {
	mb, err := NewMemoryBackend()
	require.NoError(t, err)
	require.NoError(t, mb.Open(t.Context()))

	err = mb.RemoveFile(t.Context(), tbf.FirstFileId)
	assert.ErrorIs(t, err, tbf.ErrFileNotFound)
	assert.False(t, mb.GetCapabilities().Contains(tbf.CapabilityIdempotentRemove))
}

func TestMemoryBackend_CloseDropsFiles(t *testing.T) {
	mb, err := NewMemoryBackend()
	require.NoError(t, err)
	require.NoError(t, mb.Open(t.Context()))

	id, err := mb.AddFile(t.Context(), []byte("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, mb.Len())

	require.NoError(t, mb.Close(t.Context()))

	_, err = mb.GetInfo(t.Context(), id)
	assert.ErrorIs(t, err, tbf.ErrNotOpen)

	require.NoError(t, mb.Open(t.Context()))
	assert.Equal(t, 0, mb.Len())

	_, err = mb.GetInfo(t.Context(), id)
	assert.ErrorIs(t, err, tbf.ErrFileNotFound)
}

func TestMemoryBackend_FirstId(t *testing.T) {
	mb, err := NewMemoryBackend()
	require.NoError(t, err)
	require.NoError(t, mb.Open(t.Context()))

	id, err := mb.AddFile(t.Context(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, tbf.FirstFileId, id)
}
