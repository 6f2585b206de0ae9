package chat

import (
	"errors"
	"fmt"
)

// Scoped failures are reported to the connection that triggered them and
// never affect the process or other connections. Only an authentication
// failure terminates the connection.
var (
	// ErrNotAuthenticated marks events arriving before the handshake finished.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrValidation marks events with missing or empty required fields.
	ErrValidation = errors.New("validation failed")

	// ErrProtocol marks payloads that cannot be decoded.
	ErrProtocol = errors.New("malformed event payload")
)

// StorageError wraps a failed persistent-store operation so handlers can log
// it for operators and report a scoped error to the client.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
