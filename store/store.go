// Package store reads aligned single-cell expression stores. A store is
// a directory named <name>.aligned.zarr holding a Zarr v3 group: CSR
// expression arrays under X/ (data, indices, indptr) and categorical
// annotation code arrays under obs/, with the category tables carried in
// the group attributes. Rows come out dense and gene-aligned, ready for
// the encoder.
package store

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/scembed/scembed/matrix"
)

// DefaultChunkCacheSize is the number of decompressed chunks kept in
// memory per store.
const DefaultChunkCacheSize = 64

// Options holds configurable settings for opening a store.
type Options struct {
	// ChunkCacheSize is the capacity of the decompressed-chunk LRU
	// cache. Rows themselves are never cached.
	ChunkCacheSize int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{ChunkCacheSize: DefaultChunkCacheSize}
}

// WithChunkCacheSize sets the decompressed-chunk cache capacity.
func WithChunkCacheSize(size int) func(*Options) {
	return func(o *Options) {
		o.ChunkCacheSize = size
	}
}

// Store is a read handle on one aligned store directory.
type Store struct {
	path  string
	rows  int
	genes int

	dataMeta    *arrayMeta
	indicesMeta *arrayMeta
	obsMetas    map[string]*arrayMeta
	obsCats     map[string][]string

	// indptr is small (rows+1 entries) and loaded eagerly; every row
	// access needs two adjacent entries.
	indptr []int64

	zstd       *zstd.Decoder
	chunkCache *lru.Cache[string, []byte]
}

// Open reads the store metadata at path and prepares it for row access.
// Expression data itself is read lazily, chunk by chunk.
func Open(path string, optFns ...func(*Options)) (*Store, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ChunkCacheSize <= 0 {
		opts.ChunkCacheSize = DefaultChunkCacheSize
	}

	group, err := loadGroupMeta(path)
	if err != nil {
		return nil, err
	}
	rows, genes := group.Attributes.Shape[0], group.Attributes.Shape[1]
	if rows < 0 || genes <= 0 {
		return nil, fmt.Errorf("store: invalid shape %v", group.Attributes.Shape)
	}

	cache, err := lru.New[string, []byte](opts.ChunkCacheSize)
	if err != nil {
		return nil, fmt.Errorf("store: create chunk cache: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("store: create zstd decoder: %w", err)
	}

	s := &Store{
		path:       path,
		rows:       rows,
		genes:      genes,
		obsMetas:   make(map[string]*arrayMeta, len(group.Attributes.Obs)),
		obsCats:    make(map[string][]string, len(group.Attributes.Obs)),
		zstd:       dec,
		chunkCache: cache,
	}

	if err := s.loadArrays(group); err != nil {
		dec.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadArrays(group *groupMeta) error {
	dataMeta, err := loadArrayMeta(s.path + "/X/data")
	if err != nil {
		return err
	}
	if dataMeta.DataType != "float32" {
		return fmt.Errorf("store: X/data has data_type %q, expected float32", dataMeta.DataType)
	}
	indicesMeta, err := loadArrayMeta(s.path + "/X/indices")
	if err != nil {
		return err
	}
	if indicesMeta.DataType != "int32" {
		return fmt.Errorf("store: X/indices has data_type %q, expected int32", indicesMeta.DataType)
	}
	if indicesMeta.Shape[0] != dataMeta.Shape[0] {
		return fmt.Errorf("store: X/indices length %d does not match X/data length %d", indicesMeta.Shape[0], dataMeta.Shape[0])
	}
	indptrMeta, err := loadArrayMeta(s.path + "/X/indptr")
	if err != nil {
		return err
	}
	if indptrMeta.DataType != "int64" {
		return fmt.Errorf("store: X/indptr has data_type %q, expected int64", indptrMeta.DataType)
	}
	if indptrMeta.Shape[0] != s.rows+1 {
		return fmt.Errorf("store: X/indptr length %d does not match %d rows", indptrMeta.Shape[0], s.rows)
	}

	s.dataMeta = dataMeta
	s.indicesMeta = indicesMeta
	s.indptr, err = s.readInt64s("X/indptr", indptrMeta, 0, int64(indptrMeta.Shape[0]))
	if err != nil {
		return err
	}
	for i := 1; i < len(s.indptr); i++ {
		if s.indptr[i] < s.indptr[i-1] {
			return fmt.Errorf("store: X/indptr is not monotonically non-decreasing at %d", i)
		}
	}
	if n := len(s.indptr); n > 0 && s.indptr[n-1] != int64(dataMeta.Shape[0]) {
		return fmt.Errorf("store: X/indptr ends at %d, X/data has %d entries", s.indptr[n-1], dataMeta.Shape[0])
	}

	for name, attr := range group.Attributes.Obs {
		meta, err := loadArrayMeta(s.path + "/obs/" + name)
		if err != nil {
			return err
		}
		if meta.DataType != "int32" {
			return fmt.Errorf("store: obs/%s has data_type %q, expected int32", name, meta.DataType)
		}
		if meta.Shape[0] != s.rows {
			return fmt.Errorf("store: obs/%s length %d does not match %d rows", name, meta.Shape[0], s.rows)
		}
		s.obsMetas[name] = meta
		s.obsCats[name] = attr.Categories
	}
	return nil
}

// RowCount returns the number of cells in the store.
func (s *Store) RowCount() int { return s.rows }

// NumGenes returns the length of the aligned gene axis.
func (s *Store) NumGenes() int { return s.genes }

// AnnotationColumns returns the available annotation column names in
// sorted order.
func (s *Store) AnnotationColumns() []string {
	names := make([]string, 0, len(s.obsCats))
	for name := range s.obsCats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Row materializes one dense, gene-aligned expression row.
func (s *Store) Row(i int) ([]float32, error) {
	if i < 0 || i >= s.rows {
		return nil, fmt.Errorf("store: row %d out of range [0, %d)", i, s.rows)
	}
	lo, hi := s.indptr[i], s.indptr[i+1]

	row := make([]float32, s.genes)
	if lo == hi {
		return row, nil
	}
	data, err := s.readFloat32s("X/data", s.dataMeta, lo, hi)
	if err != nil {
		return nil, err
	}
	cols, err := s.readInt32s("X/indices", s.indicesMeta, lo, hi)
	if err != nil {
		return nil, err
	}
	for j, c := range cols {
		if c < 0 || int(c) >= s.genes {
			return nil, fmt.Errorf("store: row %d has column index %d outside [0, %d)", i, c, s.genes)
		}
		row[c] = data[j]
	}
	return row, nil
}

// AnnotationColumn decodes one obs column into per-row category strings.
func (s *Store) AnnotationColumn(name string) ([]string, error) {
	meta, ok := s.obsMetas[name]
	if !ok {
		return nil, fmt.Errorf("store: unknown annotation column %q", name)
	}
	cats := s.obsCats[name]

	codes, err := s.readInt32s("obs/"+name, meta, 0, int64(s.rows))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(codes))
	for i, code := range codes {
		if code < 0 || int(code) >= len(cats) {
			return nil, fmt.Errorf("store: obs/%s row %d has code %d outside %d categories", name, i, code, len(cats))
		}
		out[i] = cats[code]
	}
	return out, nil
}

// Matrix exposes the store as a lazily materialized expression matrix.
func (s *Store) Matrix() matrix.Matrix {
	return matrix.NewLazy(storeSource{s})
}

// Close releases decoder resources. The store must not be used after.
func (s *Store) Close() error {
	s.zstd.Close()
	s.chunkCache.Purge()
	return nil
}

// storeSource adapts Store to the matrix row-source contract.
type storeSource struct {
	s *Store
}

func (src storeSource) NumRows() int { return src.s.rows }

func (src storeSource) NumCols() int { return src.s.genes }

func (src storeSource) Row(i int) ([]float32, error) { return src.s.Row(i) }
