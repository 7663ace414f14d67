package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// ConfigError reports missing or invalid required configuration. It is not retried.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config: %s is not set", e.Key)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError reports bad caller input. It maps to a client error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// EmbeddingError reports an upstream embedding failure or unusable output.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding: %s: %v", e.Op, e.Err) }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StorageError reports a vector index transport, auth, or rejection failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// IntegrityError reports a stored record that does not decode into a valid Payload.
type IntegrityError struct {
	ID     uint64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: record %d: %s", e.ID, e.Reason)
}

// IsClientError reports whether err should be surfaced to the caller as a 4xx.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
