// Package model holds the small read-only registries a trained model
// ships with: the gene order defining the encoder's input columns and the
// integer/label table for cell types.
package model

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadGeneOrder reads a newline-delimited gene-order file, one gene
// symbol per line. The resulting order defines the column order of every
// expression matrix consumed by the encoder; callers must align their
// matrices to it before embedding.
func LoadGeneOrder(path string) ([]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open gene order: %w", err)
	}
	defer fh.Close()

	var genes []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		gene := strings.TrimSpace(scanner.Text())
		if gene == "" {
			continue
		}
		genes = append(genes, gene)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("model: read gene order: %w", err)
	}
	if len(genes) == 0 {
		return nil, fmt.Errorf("model: gene order file %s is empty", path)
	}
	return genes, nil
}
