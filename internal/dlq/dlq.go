// Package dlq stores rejected source records for later inspection and replay.
package dlq

import (
	"context"
	"errors"

	"github.com/telhawk-systems/gradersync/internal/model"
)

// Backends selectable through configuration.
const (
	BackendFile      = "file"
	BackendJetStream = "jetstream"
)

// ErrDisabled is returned by operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// Queue is a dead-letter queue of rejected attempts.
type Queue interface {
	Write(ctx context.Context, rej model.Rejection) error
	List(ctx context.Context, limit int) ([]model.Rejection, error)
	Purge(ctx context.Context) (int, error)
	Close() error
}
