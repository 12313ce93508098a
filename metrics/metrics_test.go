package metrics

import (
	"testing"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/backend/backendtest"
	"github.com/mwantia/tbf/backend/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstrumented(t *testing.T, reg prometheus.Registerer) *InstrumentedFileSystem {
	t.Helper()

	mb, err := memory.NewMemoryBackend()
	require.NoError(t, err)

	ifs, err := Instrument(mb, reg, "tbf")
	require.NoError(t, err)
	require.NoError(t, ifs.Open(t.Context()))

	return ifs
}

func TestInstrument_Conformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) (tbf.FileSystem, error) {
		mb, err := memory.NewMemoryBackend()
		if err != nil {
			return nil, err
		}
		return Instrument(mb, prometheus.NewRegistry(), "tbf")
	})
}

func TestInstrument_Operations(t *testing.T) {
	reg := prometheus.NewRegistry()
	ifs := newInstrumented(t, reg)
	ctx := t.Context()

	id, err := ifs.AddFile(ctx, []byte{0, 1, 2, 3}, []tbf.Tag{tbf.DefaultTag("a")})
	require.NoError(t, err)

	require.NoError(t, ifs.EditFile(ctx, id, tbf.UpdateData([]byte("xy"))))

	info, err := ifs.GetInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("xy"), info.Data())

	ids, err := ifs.SearchTags(ctx, tbf.DefaultTag("a"))
	require.NoError(t, err)
	assert.Equal(t, []tbf.FileId{id}, ids)

	require.NoError(t, ifs.RemoveFile(ctx, id))

	_, err = ifs.GetInfo(ctx, id)
	assert.ErrorIs(t, err, tbf.ErrFileNotFound)

	m := ifs.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "open", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "edit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "info", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "info", "file_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "search", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "remove", "ok")))

	assert.Equal(t, 6.0, testutil.ToFloat64(m.bytesWritten.WithLabelValues("memory")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bytesRead.WithLabelValues("memory")))

	assert.Equal(t, 1, testutil.CollectAndCount(m.searchResults, "tbf_search_results"))
}

func TestInstrument_PassesErrorsThrough(t *testing.T) {
	ifs := newInstrumented(t, prometheus.NewRegistry())

	err := ifs.RemoveFile(t.Context(), tbf.FirstFileId)
	assert.ErrorIs(t, err, tbf.ErrFileNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(ifs.metrics.operations.WithLabelValues("memory", "remove", "file_not_found")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ifs.metrics.bytesWritten.WithLabelValues("memory")))
}

func TestInstrument_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := newInstrumented(t, reg)
	second := newInstrumented(t, reg)

	_, err := first.AddFile(t.Context(), []byte("a"), nil)
	require.NoError(t, err)
	_, err = second.AddFile(t.Context(), []byte("b"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(first.metrics.operations.WithLabelValues("memory", "add", "ok")))
	assert.Same(t, first.metrics.operations, second.metrics.operations)
}

func TestInstrument_Unwrap(t *testing.T) {
	ifs := newInstrumented(t, prometheus.NewRegistry())

	_, ok := ifs.Unwrap().(*memory.MemoryBackend)
	assert.True(t, ok)
	assert.Equal(t, "memory", ifs.Name())
}
