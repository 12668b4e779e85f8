package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Zarr v3 node documents. Arrays and groups are both described by a
// zarr.json file; groups carry this store's attributes (matrix shape and
// obs category tables), arrays carry shape/chunking/codec metadata.

type groupMeta struct {
	ZarrFormat int        `json:"zarr_format"`
	NodeType   string     `json:"node_type"`
	Attributes groupAttrs `json:"attributes"`
}

type groupAttrs struct {
	// Shape is [rows, genes] of the CSR expression matrix under X/.
	Shape []int `json:"shape"`
	// Obs maps annotation column names to their category tables. The
	// code arrays under obs/<name> index into these.
	Obs map[string]obsAttr `json:"obs"`
}

type obsAttr struct {
	Categories []string `json:"categories"`
}

type arrayMeta struct {
	Shape     []int  `json:"shape"`
	DataType  string `json:"data_type"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue  any         `json:"fill_value"`
	Codecs     []codecMeta `json:"codecs"`
	ZarrFormat int         `json:"zarr_format"`
	NodeType   string      `json:"node_type"`
}

type codecMeta struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

func loadGroupMeta(dir string) (*groupMeta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "zarr.json"))
	if err != nil {
		return nil, fmt.Errorf("store: read group metadata: %w", err)
	}
	var meta groupMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("store: parse group metadata: %w", err)
	}
	if meta.NodeType != "group" {
		return nil, fmt.Errorf("store: %s is not a zarr group (node_type %q)", dir, meta.NodeType)
	}
	if len(meta.Attributes.Shape) != 2 {
		return nil, fmt.Errorf("store: group attributes missing [rows, genes] shape")
	}
	return &meta, nil
}

func loadArrayMeta(arrayPath string) (*arrayMeta, error) {
	raw, err := os.ReadFile(filepath.Join(arrayPath, "zarr.json"))
	if err != nil {
		return nil, fmt.Errorf("store: read array metadata: %w", err)
	}
	var meta arrayMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("store: parse array metadata %s: %w", arrayPath, err)
	}
	if meta.NodeType != "array" {
		return nil, fmt.Errorf("store: %s is not a zarr array (node_type %q)", arrayPath, meta.NodeType)
	}
	if len(meta.Shape) != 1 || len(meta.ChunkGrid.Configuration.ChunkShape) != 1 {
		return nil, fmt.Errorf("store: %s: only one-dimensional arrays are supported, shape %v", arrayPath, meta.Shape)
	}
	if meta.ChunkGrid.Configuration.ChunkShape[0] <= 0 {
		return nil, fmt.Errorf("store: %s: invalid chunk shape %v", arrayPath, meta.ChunkGrid.Configuration.ChunkShape)
	}
	if _, err := dtypeSize(meta.DataType); err != nil {
		return nil, fmt.Errorf("store: %s: %w", arrayPath, err)
	}
	return &meta, nil
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "float32", "int32", "uint32":
		return 4, nil
	case "int64", "uint64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type %q", dataType)
	}
}

// compressionCodec returns the name of the compression codec declared
// for the array, or "" when chunks are stored raw. The "bytes" codec is
// the mandatory little-endian array-to-bytes step and is skipped here.
func (m *arrayMeta) compressionCodec() (string, error) {
	name := ""
	for _, c := range m.Codecs {
		switch c.Name {
		case "bytes":
			// array-to-bytes codec; endianness is always little here
		case "zstd", "lz4":
			name = c.Name
		default:
			return "", fmt.Errorf("unsupported zarr codec %q", c.Name)
		}
	}
	return name, nil
}
