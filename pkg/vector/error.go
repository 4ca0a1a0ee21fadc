package vector

import "errors"

var (
	// ErrConnection is returned when the vector store connection fails.
	ErrConnection = errors.New("vector store connection failed")

	// ErrInvalidID is returned for document ids the store cannot address.
	ErrInvalidID = errors.New("invalid vector document id")
)
