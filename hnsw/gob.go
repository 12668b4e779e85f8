package hnsw

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
)

// Compile time checks to ensure HNSW satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*HNSW)(nil)
	_ gob.GobDecoder = (*HNSW)(nil)
)

// GobEncode method for HNSW.
func (h *HNSW) GobEncode() ([]byte, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(h.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ml); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ep); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.maxLevel); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nodes); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.opts); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode method for HNSW.
func (h *HNSW) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&h.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ml); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ep); err != nil {
		return err
	}

	if err := decoder.Decode(&h.maxLevel); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nodes); err != nil {
		return err
	}

	if err := decoder.Decode(&h.opts); err != nil {
		return err
	}

	h.mmax = h.opts.M
	h.mmax0 = 2 * h.opts.M
	h.rng = rand.New(rand.NewSource(h.opts.Seed))

	return nil
}

// Save writes the graph to a file.
func (h *HNSW) Save(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hnsw: create index file: %w", err)
	}
	defer fh.Close()

	if err := gob.NewEncoder(fh).Encode(h); err != nil {
		return fmt.Errorf("hnsw: encode index: %w", err)
	}
	return nil
}

// Load reads a graph previously written with Save.
func Load(path string) (*HNSW, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hnsw: open index file: %w", err)
	}
	defer fh.Close()

	h := &HNSW{}
	if err := gob.NewDecoder(fh).Decode(h); err != nil {
		return nil, fmt.Errorf("hnsw: decode index: %w", err)
	}
	return h, nil
}
