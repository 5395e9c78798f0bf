package cards

import (
	"errors"
	"fmt"
)

var (
	ErrCardNotFound  = errors.New("card not found")
	ErrBlockNotFound = errors.New("block not found")

	// ErrConcurrentUpdate is returned when a mutation kept losing the
	// version race against other writers of the same card.
	ErrConcurrentUpdate = errors.New("card was modified concurrently, retry the request")

	// ErrVersionConflict is returned by a Store when the stored version no
	// longer matches the version the card was loaded with.
	ErrVersionConflict = errors.New("card version conflict")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports an operation that does not apply to the current
// state, such as pinning an already pinned block.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

var (
	errAlreadyPinned = &ConflictError{Message: "Block is already pinned"}
	errNotPinned     = &ConflictError{Message: "Block is not pinned"}
	errAlreadyTask   = &ConflictError{Message: "Card is already a task"}
	errAlreadyNote   = &ConflictError{Message: "Card is already a note"}
)
