// Package identity owns the process-wide assistant id: it is read from
// persisted config at startup, created on first use when missing, and
// written back so later processes reuse it.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/prodscribe/internal/shape"
	"github.com/kalambet/prodscribe/internal/upstream"
)

// ErrMissingID is returned when the provider accepts the assistant but the
// response carries no id.
var ErrMissingID = errors.New("assistant response has no id")

// AssistantCreator registers a new assistant with the provider.
type AssistantCreator interface {
	CreateAssistant(ctx context.Context, p upstream.AssistantParams) (shape.Value, error)
}

// Persister stores the assistant id for reuse across restarts.
type Persister interface {
	SaveAssistantID(id string) error
}

// Resolver hands out the assistant id, creating it at most once per
// process even when many requests arrive before it exists. A failed
// creation is not remembered; the next caller tries again.
type Resolver struct {
	creator AssistantCreator
	store   Persister
	params  upstream.AssistantParams
	logger  *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	id    string
}

// NewResolver creates a Resolver. initialID is the persisted id, if any.
// store may be nil, in which case new ids live only in memory.
func NewResolver(creator AssistantCreator, store Persister, params upstream.AssistantParams, initialID string) *Resolver {
	return &Resolver{
		creator: creator,
		store:   store,
		params:  params,
		logger:  slog.Default(),
		id:      initialID,
	}
}

// ID returns the cached id without creating one.
func (r *Resolver) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// Ensure returns the assistant id, creating and persisting it if needed.
func (r *Resolver) Ensure(ctx context.Context) (string, error) {
	if id := r.ID(); id != "" {
		return id, nil
	}

	// The shared call must not die with whichever request started it.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan("assistant", func() (any, error) {
		if id := r.ID(); id != "" {
			return id, nil
		}
		return r.create(shared)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) create(ctx context.Context) (string, error) {
	resp, err := r.creator.CreateAssistant(ctx, r.params)
	if err != nil {
		return "", fmt.Errorf("creating assistant: %w", err)
	}
	id := resp.Str("id")
	if id == "" {
		return "", fmt.Errorf("creating assistant: %w", ErrMissingID)
	}

	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
	r.logger.Info("created assistant", "assistant_id", id, "name", r.params.Name)

	if r.store != nil {
		if err := r.store.SaveAssistantID(id); err != nil {
			r.logger.Warn("persisting assistant id failed", "assistant_id", id, "error", err)
		}
	}
	return id, nil
}
