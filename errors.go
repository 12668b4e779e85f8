package scembed

import (
	"errors"
	"fmt"

	"github.com/scembed/scembed/knn"
	"github.com/scembed/scembed/matrix"
)

var (
	// ErrUnsupportedInputType is returned when an expression matrix
	// representation is not recognized.
	ErrUnsupportedInputType = errors.New("unsupported expression matrix type")

	// ErrEmptyInput is returned when an embedding call has zero rows to
	// process.
	ErrEmptyInput = errors.New("no rows to embed")

	// ErrIndexNotInitialized is returned when neighbors are queried
	// before a knn index was loaded.
	ErrIndexNotInitialized = errors.New("knn index not initialized")
)

// ErrNumericalInstability indicates a non-finite value in the encoder
// output. Embedding fails as a whole; no partial results are returned.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrNumericalInstability struct {
	Row   int
	Col   int
	cause error
}

func (e *ErrNumericalInstability) Error() string {
	return fmt.Sprintf("non-finite embedding value at row %d, column %d", e.Row, e.Col)
}

func (e *ErrNumericalInstability) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ut *matrix.ErrUnsupportedType
	if errors.As(err, &ut) {
		return fmt.Errorf("%w: %w", ErrUnsupportedInputType, err)
	}
	if errors.Is(err, knn.ErrNotInitialized) {
		return fmt.Errorf("%w: %w", ErrIndexNotInitialized, err)
	}

	return err
}
