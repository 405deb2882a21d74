package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrEmptyKey indicates that a read or write was attempted without a key.
	ErrEmptyKey = errors.New("kvstore: key is required")
	// ErrInvalidValue indicates that a value is not valid JSON.
	ErrInvalidValue = errors.New("kvstore: value must be valid json")
)

// Store is a durable map from string key to JSON document.
// Writes to different keys are not transactional with respect to each other.
type Store interface {
	// Read returns the stored document; found is false when the key is absent.
	Read(ctx context.Context, key string) (value json.RawMessage, found bool, err error)
	// Write replaces the document stored under key.
	Write(ctx context.Context, key string, value json.RawMessage) error
	// ListKeysWithPrefix returns every stored key starting with prefix, sorted ascending.
	ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}

func validateValue(value json.RawMessage) error {
	if len(value) == 0 || !json.Valid(value) {
		return ErrInvalidValue
	}
	return nil
}

func cloneValue(value json.RawMessage) json.RawMessage {
	if value == nil {
		return nil
	}
	return append(json.RawMessage(nil), value...)
}
