// Package store persists the messaging core's collections as opaque blobs
// under stable keys.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Stable keys for the three persisted collections.
const (
	KeyScheduledMessages = "scheduled_messages"
	KeyInboundMessages   = "inbound_messages"
	KeyAnalytics         = "message_analytics"
)

var (
	// ErrNotFound is returned by Load when nothing has been saved under key.
	ErrNotFound = errors.New("store: key not found")
	// ErrLoadFailed is returned by a collection asked to persist after its
	// last Load failed; saving would replace the unread state.
	ErrLoadFailed = errors.New("store: previous load failed")
)

// Store is a minimal key/value persistence layer.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

// SaveJSON marshals v and saves it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	if err := s.Save(ctx, key, data); err != nil {
		return fmt.Errorf("store: save %s: %w", key, err)
	}
	return nil
}

// LoadJSON loads key into v. found is false when the key was never saved.
func LoadJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: load %s: %w", key, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// Prefixed namespaces keys, e.g. per environment.
func Prefixed(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{inner: s, prefix: prefix}
}

type prefixed struct {
	inner  Store
	prefix string
}

func (p *prefixed) Load(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Load(ctx, p.prefix+key)
}

func (p *prefixed) Save(ctx context.Context, key string, value []byte) error {
	return p.inner.Save(ctx, p.prefix+key, value)
}
