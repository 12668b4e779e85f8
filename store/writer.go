package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultChunkSize is the number of elements per chunk written by
// WriteAligned.
const DefaultChunkSize = 4096

// WriterOptions holds configurable settings for writing a store.
type WriterOptions struct {
	// Codec compresses chunk payloads: "zstd" (default), "lz4", or ""
	// for raw little-endian bytes.
	Codec string
	// ChunkSize is the number of elements per chunk.
	ChunkSize int
}

// DefaultWriterOptions returns the default writer options.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{Codec: "zstd", ChunkSize: DefaultChunkSize}
}

// WithCodec selects the chunk compression codec.
func WithCodec(codec string) func(*WriterOptions) {
	return func(o *WriterOptions) {
		o.Codec = codec
	}
}

// WithChunkSize sets the number of elements per chunk.
func WithChunkSize(size int) func(*WriterOptions) {
	return func(o *WriterOptions) {
		o.ChunkSize = size
	}
}

// WriteAligned writes a dense expression matrix and its annotation
// columns as an aligned store directory. Rows must share one length (the
// gene axis); obs maps column names to per-row category strings.
// All-zero chunks are not written; readers synthesize them from the fill
// value.
func WriteAligned(path string, rows [][]float32, obs map[string][]string, optFns ...func(*WriterOptions)) error {
	opts := DefaultWriterOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	switch opts.Codec {
	case "", "zstd", "lz4":
	default:
		return fmt.Errorf("store: unsupported codec %q", opts.Codec)
	}

	if len(rows) == 0 {
		return fmt.Errorf("store: no rows to write")
	}
	genes := len(rows[0])
	if genes == 0 {
		return fmt.Errorf("store: rows have no genes")
	}
	for i, row := range rows {
		if len(row) != genes {
			return fmt.Errorf("store: row %d has %d genes, expected %d", i, len(row), genes)
		}
	}
	for name, col := range obs {
		if len(col) != len(rows) {
			return fmt.Errorf("store: obs column %q has %d values for %d rows", name, len(col), len(rows))
		}
	}

	var (
		data    []float32
		indices []int32
		indptr  = make([]int64, 1, len(rows)+1)
	)
	for _, row := range rows {
		for j, v := range row {
			if v != 0 {
				data = append(data, v)
				indices = append(indices, int32(j))
			}
		}
		indptr = append(indptr, int64(len(data)))
	}

	attrs := groupAttrs{
		Shape: []int{len(rows), genes},
		Obs:   make(map[string]obsAttr, len(obs)),
	}
	codes := make(map[string][]int32, len(obs))
	for name, col := range obs {
		cats, colCodes := encodeCategorical(col)
		attrs.Obs[name] = obsAttr{Categories: cats}
		codes[name] = colCodes
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", path, err)
	}
	if err := writeJSONFile(filepath.Join(path, "zarr.json"), groupMeta{
		ZarrFormat: 3,
		NodeType:   "group",
		Attributes: attrs,
	}); err != nil {
		return err
	}

	w := arrayWriter{root: path, opts: opts}
	if err := w.write("X/data", "float32", len(data), func(i int, buf []byte) {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(data[i]))
	}); err != nil {
		return err
	}
	if err := w.write("X/indices", "int32", len(indices), func(i int, buf []byte) {
		binary.LittleEndian.PutUint32(buf, uint32(indices[i]))
	}); err != nil {
		return err
	}
	if err := w.write("X/indptr", "int64", len(indptr), func(i int, buf []byte) {
		binary.LittleEndian.PutUint64(buf, uint64(indptr[i]))
	}); err != nil {
		return err
	}
	for name, colCodes := range codes {
		colCodes := colCodes
		if err := w.write("obs/"+name, "int32", len(colCodes), func(i int, buf []byte) {
			binary.LittleEndian.PutUint32(buf, uint32(colCodes[i]))
		}); err != nil {
			return err
		}
	}
	return nil
}

// encodeCategorical maps a string column to a sorted category table and
// per-row codes.
func encodeCategorical(col []string) ([]string, []int32) {
	seen := make(map[string]struct{}, len(col))
	for _, v := range col {
		seen[v] = struct{}{}
	}
	cats := make([]string, 0, len(seen))
	for v := range seen {
		cats = append(cats, v)
	}
	sort.Strings(cats)

	catToCode := make(map[string]int32, len(cats))
	for i, c := range cats {
		catToCode[c] = int32(i)
	}
	codes := make([]int32, len(col))
	for i, v := range col {
		codes[i] = catToCode[v]
	}
	return cats, codes
}

type arrayWriter struct {
	root string
	opts WriterOptions
}

// write emits one 1-D array: its zarr.json and the non-fill chunks under
// c/. encode writes element i into buf as little-endian bytes.
func (w arrayWriter) write(rel, dtype string, n int, encode func(i int, buf []byte)) error {
	elemSize, err := dtypeSize(dtype)
	if err != nil {
		return err
	}
	dir := filepath.Join(w.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Join(dir, "c"), 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}

	meta := arrayMeta{
		Shape:      []int{n},
		DataType:   dtype,
		FillValue:  0.0,
		ZarrFormat: 3,
		NodeType:   "array",
	}
	meta.ChunkGrid.Name = "regular"
	meta.ChunkGrid.Configuration.ChunkShape = []int{w.opts.ChunkSize}
	meta.ChunkKeyEncoding.Name = "default"
	meta.ChunkKeyEncoding.Configuration.Separator = "/"
	meta.Codecs = append(meta.Codecs, codecMeta{Name: "bytes", Configuration: map[string]any{"endian": "little"}})
	if w.opts.Codec != "" {
		meta.Codecs = append(meta.Codecs, codecMeta{Name: w.opts.Codec})
	}
	if err := writeJSONFile(filepath.Join(dir, "zarr.json"), meta); err != nil {
		return err
	}

	for start, idx := 0, 0; start < n; start, idx = start+w.opts.ChunkSize, idx+1 {
		end := start + w.opts.ChunkSize
		if end > n {
			end = n
		}
		payload := make([]byte, (end-start)*elemSize)
		for i := start; i < end; i++ {
			encode(i, payload[(i-start)*elemSize:])
		}
		if allZero(payload) {
			continue
		}
		compressed, err := w.compress(payload)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, "c", strconv.Itoa(idx))
		if err := os.WriteFile(name, compressed, 0o644); err != nil {
			return fmt.Errorf("store: write chunk %s: %w", name, err)
		}
	}
	return nil
}

func (w arrayWriter) compress(payload []byte) ([]byte, error) {
	switch w.opts.Codec {
	case "":
		return payload, nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("store: create zstd encoder: %w", err)
		}
		out := enc.EncodeAll(payload, nil)
		enc.Close()
		return out, nil
	case "lz4":
		var buf bytes.Buffer
		lw := lz4.NewWriter(&buf)
		if _, err := lw.Write(payload); err != nil {
			return nil, fmt.Errorf("store: lz4 compress: %w", err)
		}
		if err := lw.Close(); err != nil {
			return nil, fmt.Errorf("store: lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("store: unsupported codec %q", w.opts.Codec)
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}
