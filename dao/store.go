package dao

import (
	"context"
	"errors"

	"effect-service/model"
)

var (
	// ErrAlreadyExists indicates an effect with the same id is already stored.
	ErrAlreadyExists = errors.New("effect already exists")
	// ErrIntegrity indicates more than one record matched a unique id.
	ErrIntegrity = errors.New("effect id matched more than one record")
)

// EffectStore persists effect records. It applies no business rules: callers
// normalize ids and statuses before writing.
type EffectStore interface {
	GetAll(ctx context.Context) ([]model.Effect, error)
	// Get returns nil, nil when no record has the id.
	Get(ctx context.Context, id string) (*model.Effect, error)
	Create(ctx context.Context, effect model.Effect) (string, error)
	// Update replaces every column and reports whether the row changed.
	Update(ctx context.Context, effect model.Effect) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	FindByStatus(ctx context.Context, status model.EffectStatus) ([]model.Effect, error)
	FindBySeller(ctx context.Context, sellerID string) ([]model.Effect, error)
	// ApplyTransition writes the transition only if the row is still in t.From.
	ApplyTransition(ctx context.Context, id string, t model.Transition) (bool, error)
}
