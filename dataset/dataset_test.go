package dataset

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scembed/scembed/store"
)

const testGenes = 5

// writeSplit creates one split directory holding a store per entry in
// sizes. Row r of store s has expression value s*1000+r at gene 0, so a
// global index can be traced back to its (store, row) origin. Labels
// cycle through the given label set; the study is one per store.
func writeSplit(t *testing.T, dir string, sizes []int, labelSet []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for s, size := range sizes {
		rows := make([][]float32, size)
		labels := make([]string, size)
		studies := make([]string, size)
		for r := range rows {
			rows[r] = make([]float32, testGenes)
			rows[r][0] = float32(s*1000 + r)
			labels[r] = labelSet[r%len(labelSet)]
			studies[r] = "GSE" + strconv.Itoa(s)
		}
		path := filepath.Join(dir, "dataset_"+strconv.Itoa(s)+".aligned.zarr")
		require.NoError(t, store.WriteAligned(path, rows, map[string][]string{
			"celltype_id": labels,
			"study":       studies,
		}))
	}
}

func writeGeneOrder(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "gene_order.tsv")
	var buf []byte
	for i := 0; i < testGenes; i++ {
		buf = append(buf, []byte("GENE"+strconv.Itoa(i)+"\n")...)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestViewGlobalIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "train")
	writeSplit(t, dir, []int{3, 5, 2}, []string{"t cell", "b cell"})

	v, err := OpenView(context.Background(), dir, "celltype_id", "study")
	require.NoError(t, err)
	defer v.Close()

	require.Equal(t, 10, v.Len())
	assert.Equal(t, testGenes, v.NumGenes())
	assert.Len(t, v.Sources(), 3)

	// Global index 3 is the first row of the second store, 8 the first
	// row of the third.
	vec, _, study, err := v.Row(3)
	require.NoError(t, err)
	assert.Equal(t, float32(1000), vec[0])
	assert.Equal(t, "GSE1", study)

	vec, _, study, err = v.Row(8)
	require.NoError(t, err)
	assert.Equal(t, float32(2000), vec[0])
	assert.Equal(t, "GSE2", study)

	_, _, _, err = v.Row(10)
	assert.Error(t, err)
}

func TestViewWithoutStudyColumn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "train")
	writeSplit(t, dir, []int{4}, []string{"t cell"})

	v, err := OpenView(context.Background(), dir, "celltype_id", "")
	require.NoError(t, err)
	defer v.Close()

	assert.Nil(t, v.StudyColumn())
	_, label, study, err := v.Row(0)
	require.NoError(t, err)
	assert.Equal(t, "t cell", label)
	assert.Equal(t, "", study)
}

func TestOpenViewEmptyDir(t *testing.T) {
	_, err := OpenView(context.Background(), t.TempDir(), "celltype_id", "")
	assert.Error(t, err)
}

func TestWeights(t *testing.T) {
	weights, err := Weights([]string{"a", "a", "b"}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 1}, weights, 1e-9)
}

func TestWeightsWithStudies(t *testing.T) {
	labels := []string{"a", "a", "a", "a"}
	studies := []string{"s1", "s1", "s1", "s2"}

	weights, err := Weights(labels, studies)
	require.NoError(t, err)

	// s1 occurs three times: dampened by ln(3). s2 occurs once: the log
	// term is floored at ln(2) instead of ln(1) = 0.
	assert.InDelta(t, 0.25/math.Log(3), weights[0], 1e-9)
	assert.InDelta(t, 0.25/math.Ln2, weights[3], 1e-9)
}

func TestWeightsValidation(t *testing.T) {
	_, err := Weights(nil, nil)
	assert.Error(t, err)

	_, err = Weights([]string{"a"}, []string{"s1", "s2"})
	assert.Error(t, err)
}

func TestSamplerProportions(t *testing.T) {
	s, err := NewSampler([]float64{1, 3}, 7)
	require.NoError(t, err)

	draws := s.Draw(20000)
	counts := make([]int, 2)
	for _, d := range draws {
		counts[d]++
	}
	ratio := float64(counts[1]) / float64(counts[0])
	assert.InDelta(t, 3, ratio, 0.3)
}

func TestSamplerDeterminism(t *testing.T) {
	a, err := NewSampler([]float64{1, 2, 3}, 42)
	require.NoError(t, err)
	b, err := NewSampler([]float64{1, 2, 3}, 42)
	require.NoError(t, err)
	assert.Equal(t, a.Draw(100), b.Draw(100))
}

func TestSamplerValidation(t *testing.T) {
	_, err := NewSampler(nil, 1)
	assert.Error(t, err)

	_, err = NewSampler([]float64{1, -1}, 1)
	assert.Error(t, err)

	_, err = NewSampler([]float64{0, 0}, 1)
	assert.Error(t, err)
}

func newTestModule(t *testing.T, sizes []int, batchSize int) *DataModule {
	t.Helper()
	root := t.TempDir()
	trainDir := filepath.Join(root, "train")
	writeSplit(t, trainDir, sizes, []string{"t cell", "b cell", "nk cell"})

	dm, err := New(context.Background(), Config{
		TrainPath:     trainDir,
		GeneOrderPath: writeGeneOrder(t, root),
		LabelColumn:   "celltype_id",
		StudyColumn:   "study",
		BatchSize:     batchSize,
		Seed:          11,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return dm
}

func TestTrainLoaderDropsPartialBatch(t *testing.T) {
	dm := newTestModule(t, []int{100, 50, 25}, 32)

	loader, err := dm.TrainLoader()
	require.NoError(t, err)
	assert.Equal(t, 5, loader.NumBatches())

	ctx := context.Background()
	var batches int
	for {
		batch, err := loader.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		r, c := batch.X.Dims()
		assert.Equal(t, 32, r)
		assert.Equal(t, testGenes, c)
		assert.Len(t, batch.Labels, 32)
		assert.Len(t, batch.Studies, 32)
		batches++
	}
	assert.Equal(t, 5, batches)
}

func TestBatchCollation(t *testing.T) {
	dm := newTestModule(t, []int{9}, 4)

	loader, err := dm.TrainLoader()
	require.NoError(t, err)

	batch, err := loader.Next(context.Background())
	require.NoError(t, err)

	reg := dm.Labels()
	for i, labelInt := range batch.Labels {
		label, ok := reg.Label(labelInt)
		require.True(t, ok)
		assert.NotEmpty(t, label)
		assert.NotEmpty(t, batch.Studies[i])
	}
}

func TestValLoaderUnavailable(t *testing.T) {
	dm := newTestModule(t, []int{6}, 2)

	_, err := dm.ValLoader()
	assert.ErrorIs(t, err, ErrSplitUnavailable)
	_, err = dm.TestLoader()
	assert.ErrorIs(t, err, ErrSplitUnavailable)
}

func TestValLoaderWeighted(t *testing.T) {
	root := t.TempDir()
	trainDir := filepath.Join(root, "train")
	valDir := filepath.Join(root, "val")
	writeSplit(t, trainDir, []int{6}, []string{"common", "rare"})

	// 19 common rows and a single rare one. The weighted draw gives the
	// rare label half the probability mass, so its row should make up
	// about half of the draws across epochs.
	require.NoError(t, os.MkdirAll(valDir, 0o755))
	rows := make([][]float32, 20)
	labels := make([]string, 20)
	for r := range rows {
		rows[r] = make([]float32, testGenes)
		rows[r][0] = float32(r)
		labels[r] = "common"
	}
	labels[19] = "rare"
	require.NoError(t, store.WriteAligned(filepath.Join(valDir, "dataset_0.aligned.zarr"), rows, map[string][]string{
		"celltype_id": labels,
	}))

	dm, err := New(context.Background(), Config{
		TrainPath:     trainDir,
		ValPath:       valDir,
		GeneOrderPath: writeGeneOrder(t, root),
		LabelColumn:   "celltype_id",
		BatchSize:     20,
		Seed:          5,
	}, nil)
	require.NoError(t, err)
	defer dm.Close()

	var rare, total int
	for epoch := 0; epoch < 25; epoch++ {
		loader, err := dm.ValLoader()
		require.NoError(t, err)
		batch, err := loader.Next(context.Background())
		require.NoError(t, err)
		r, _ := batch.X.Dims()
		for i := 0; i < r; i++ {
			if batch.X.At(i, 0) == 19 {
				rare++
			}
			total++
		}
	}
	assert.InDelta(t, 0.5, float64(rare)/float64(total), 0.1)
}

func epochMarkers(t *testing.T, dm *DataModule) []float64 {
	t.Helper()
	loader, err := dm.TrainLoader()
	require.NoError(t, err)

	var out []float64
	for {
		batch, err := loader.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		r, _ := batch.X.Dims()
		for i := 0; i < r; i++ {
			out = append(out, batch.X.At(i, 0))
		}
	}
	return out
}

func TestTrainEpochsDiffer(t *testing.T) {
	dm := newTestModule(t, []int{30}, 30)

	first := epochMarkers(t, dm)
	second := epochMarkers(t, dm)
	require.Len(t, first, 30)
	assert.NotEqual(t, first, second)
}

func TestTrainEpochsReproducible(t *testing.T) {
	a := newTestModule(t, []int{30}, 30)
	b := newTestModule(t, []int{30}, 30)

	assert.Equal(t, epochMarkers(t, a), epochMarkers(t, b))
}

func TestLoaderContextCancellation(t *testing.T) {
	dm := newTestModule(t, []int{8}, 2)

	loader, err := dm.TrainLoader()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
