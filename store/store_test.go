package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRows() [][]float32 {
	return [][]float32{
		{0, 1.5, 0, 0, 2},
		{0, 0, 0, 0, 0},
		{3, 0, 0, 0.5, 0},
		{0, 0, 7, 0, 0},
	}
}

func testObs() map[string][]string {
	return map[string][]string{
		"celltype_id": {"t cell", "b cell", "t cell", "nk cell"},
		"study":       {"GSE1", "GSE1", "GSE2", "GSE2"},
	}
}

func writeTestStore(t *testing.T, optFns ...func(*WriterOptions)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.aligned.zarr")
	require.NoError(t, WriteAligned(path, testRows(), testObs(), optFns...))
	return path
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []string{"zstd", "lz4", ""} {
		t.Run("codec="+codec, func(t *testing.T) {
			path := writeTestStore(t, WithCodec(codec), WithChunkSize(3))

			s, err := Open(path)
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, 4, s.RowCount())
			assert.Equal(t, 5, s.NumGenes())

			for i, want := range testRows() {
				got, err := s.Row(i)
				require.NoError(t, err)
				assert.Equal(t, want, got, "row %d", i)
			}
		})
	}
}

func TestAnnotationColumns(t *testing.T) {
	s, err := Open(writeTestStore(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"celltype_id", "study"}, s.AnnotationColumns())

	labels, err := s.AnnotationColumn("celltype_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"t cell", "b cell", "t cell", "nk cell"}, labels)

	studies, err := s.AnnotationColumn("study")
	require.NoError(t, err)
	assert.Equal(t, []string{"GSE1", "GSE1", "GSE2", "GSE2"}, studies)

	_, err = s.AnnotationColumn("tissue")
	assert.Error(t, err)
}

func TestAbsentChunksAreFill(t *testing.T) {
	// Chunk size 1 makes every obs code its own chunk; "GSE1" encodes to
	// 0, so its chunks are skipped at write time and synthesized from
	// the fill value on read.
	path := writeTestStore(t, WithChunkSize(1))

	entries, err := os.ReadDir(filepath.Join(path, "obs", "study", "c"))
	require.NoError(t, err)
	require.Less(t, len(entries), 4, "all-zero chunks should be absent")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	studies, err := s.AnnotationColumn("study")
	require.NoError(t, err)
	assert.Equal(t, []string{"GSE1", "GSE1", "GSE2", "GSE2"}, studies)
}

func TestRowOutOfRange(t *testing.T) {
	s, err := Open(writeTestStore(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Row(-1)
	assert.Error(t, err)
	_, err = s.Row(4)
	assert.Error(t, err)
}

func TestMatrixAdapter(t *testing.T) {
	s, err := Open(writeTestStore(t, WithChunkSize(2)))
	require.NoError(t, err)
	defer s.Close()

	m := s.Matrix()
	assert.Equal(t, 4, m.Rows())
	assert.Equal(t, 5, m.Cols())

	chunk, err := m.DenseChunk(1, 3)
	require.NoError(t, err)
	r, c := chunk.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 5, c)
	assert.InDelta(t, 3, chunk.At(1, 0), 1e-6)
	assert.InDelta(t, 0.5, chunk.At(1, 3), 1e-6)
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.aligned.zarr"))
	assert.Error(t, err)
}

func TestWriteAlignedValidation(t *testing.T) {
	dir := t.TempDir()

	err := WriteAligned(filepath.Join(dir, "empty.aligned.zarr"), nil, nil)
	assert.Error(t, err)

	err = WriteAligned(filepath.Join(dir, "ragged.aligned.zarr"), [][]float32{{1, 2}, {1}}, nil)
	assert.Error(t, err)

	err = WriteAligned(filepath.Join(dir, "obs.aligned.zarr"), [][]float32{{1, 2}}, map[string][]string{"study": {"a", "b"}})
	assert.Error(t, err)
}

func TestChunkCacheReuse(t *testing.T) {
	s, err := Open(writeTestStore(t), WithChunkCacheSize(8))
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Row(0)
	require.NoError(t, err)
	second, err := s.Row(0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
