package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pierrec/lz4/v4"
)

// chunkBytes returns the decompressed bytes of one chunk of a 1-D array,
// synthesizing an all-fill-value chunk when the chunk file is absent.
// Decompressed chunks go through the store's LRU cache.
func (s *Store) chunkBytes(rel string, meta *arrayMeta, idx int) ([]byte, error) {
	key := rel + "/" + strconv.Itoa(idx)
	if cached, ok := s.chunkCache.Get(key); ok {
		return cached, nil
	}

	elemSize, err := dtypeSize(meta.DataType)
	if err != nil {
		return nil, err
	}
	chunkLen := s.chunkExtent(meta, idx)
	if chunkLen <= 0 {
		return nil, fmt.Errorf("store: chunk %d out of range for %s", idx, rel)
	}

	raw, err := os.ReadFile(filepath.Join(s.path, rel, "c", strconv.Itoa(idx)))
	if os.IsNotExist(err) {
		fill, err := fillBytes(meta, elemSize)
		if err != nil {
			return nil, err
		}
		data := repeatFill(fill, chunkLen)
		s.chunkCache.Add(key, data)
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read chunk %d of %s: %w", idx, rel, err)
	}

	codec, err := meta.compressionCodec()
	if err != nil {
		return nil, err
	}
	data, err := s.decode(codec, raw)
	if err != nil {
		return nil, fmt.Errorf("store: decompress chunk %d of %s: %w", idx, rel, err)
	}
	if len(data) < chunkLen*elemSize {
		return nil, fmt.Errorf("store: chunk %d of %s too short: got %d bytes, expected %d", idx, rel, len(data), chunkLen*elemSize)
	}

	s.chunkCache.Add(key, data)
	return data, nil
}

// chunkExtent returns how many elements chunk idx actually holds (the
// last chunk may be partial).
func (s *Store) chunkExtent(meta *arrayMeta, idx int) int {
	n := meta.Shape[0]
	chunkLen := meta.ChunkGrid.Configuration.ChunkShape[0]
	start := idx * chunkLen
	if start < 0 || start >= n {
		if n == 0 && idx == 0 {
			return 0
		}
		return -1
	}
	if remaining := n - start; remaining < chunkLen {
		return remaining
	}
	return chunkLen
}

func (s *Store) decode(codec string, raw []byte) ([]byte, error) {
	switch codec {
	case "":
		return raw, nil
	case "zstd":
		return s.zstd.DecodeAll(raw, nil)
	case "lz4":
		return io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

// readRange reads elements [lo, hi) of a 1-D array as raw little-endian
// bytes.
func (s *Store) readRange(rel string, meta *arrayMeta, lo, hi int64) ([]byte, error) {
	if lo < 0 || hi < lo || hi > int64(meta.Shape[0]) {
		return nil, fmt.Errorf("store: range [%d, %d) out of bounds for %s (len %d)", lo, hi, rel, meta.Shape[0])
	}
	elemSize, err := dtypeSize(meta.DataType)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, (hi-lo)*int64(elemSize))
	if lo == hi {
		return out, nil
	}

	chunkLen := int64(meta.ChunkGrid.Configuration.ChunkShape[0])
	for c := lo / chunkLen; c*chunkLen < hi; c++ {
		data, err := s.chunkBytes(rel, meta, int(c))
		if err != nil {
			return nil, err
		}
		start := max64(lo, c*chunkLen) - c*chunkLen
		end := min64(hi, (c+1)*chunkLen) - c*chunkLen
		out = append(out, data[start*int64(elemSize):end*int64(elemSize)]...)
	}
	return out, nil
}

func (s *Store) readFloat32s(rel string, meta *arrayMeta, lo, hi int64) ([]float32, error) {
	raw, err := s.readRange(rel, meta, lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func (s *Store) readInt32s(rel string, meta *arrayMeta, lo, hi int64) ([]int32, error) {
	raw, err := s.readRange(rel, meta, lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(raw)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func (s *Store) readInt64s(rel string, meta *arrayMeta, lo, hi int64) ([]int64, error) {
	raw, err := s.readRange(rel, meta, lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(raw)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// fillBytes encodes the array's fill value as one little-endian element.
// An unspecified fill value means zero.
func fillBytes(meta *arrayMeta, elemSize int) ([]byte, error) {
	buf := make([]byte, elemSize)
	if meta.FillValue == nil {
		return buf, nil
	}
	num, ok := meta.FillValue.(float64) // JSON numbers decode as float64
	if !ok {
		return nil, fmt.Errorf("unsupported fill_value type %T", meta.FillValue)
	}

	switch meta.DataType {
	case "float32":
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(num)))
	case "int32":
		binary.LittleEndian.PutUint32(buf, uint32(int32(num)))
	case "uint32":
		binary.LittleEndian.PutUint32(buf, uint32(num))
	case "int64":
		binary.LittleEndian.PutUint64(buf, uint64(int64(num)))
	case "uint64":
		binary.LittleEndian.PutUint64(buf, uint64(num))
	default:
		return nil, fmt.Errorf("unsupported zarr data_type %q", meta.DataType)
	}
	return buf, nil
}

func repeatFill(fill []byte, n int) []byte {
	allZero := true
	for _, b := range fill {
		if b != 0 {
			allZero = false
			break
		}
	}
	out := make([]byte, len(fill)*n)
	if allZero {
		return out
	}
	for i := 0; i < n; i++ {
		copy(out[i*len(fill):], fill)
	}
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
