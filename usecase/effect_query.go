package usecase

import (
	"context"

	"go.uber.org/zap"

	"effect-service/dao"
	"effect-service/model"
)

// EffectReader is the read contract other workflows depend on.
type EffectReader interface {
	GetEffect(ctx context.Context, id string) (*model.Effect, error)
}

// EffectQuery serves read-only projections straight from the store.
type EffectQuery struct {
	store  dao.EffectStore
	logger *zap.Logger
}

var _ EffectReader = (*EffectQuery)(nil)

func NewEffectQuery(store dao.EffectStore, logger *zap.Logger) *EffectQuery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EffectQuery{store: store, logger: logger.Named("query")}
}

func (q *EffectQuery) GetAllEffects(ctx context.Context) ([]model.Effect, error) {
	effects, err := q.store.GetAll(ctx)
	if err != nil {
		q.logger.Error("get all effects failed", zap.Error(err))
	}
	return effects, err
}

func (q *EffectQuery) GetEffectsByStatus(ctx context.Context, status model.EffectStatus) ([]model.Effect, error) {
	effects, err := q.store.FindByStatus(ctx, status)
	if err != nil {
		q.logger.Error("get effects by status failed", zap.String("status", string(status)), zap.Error(err))
	}
	return effects, err
}

func (q *EffectQuery) GetEffectsBySeller(ctx context.Context, sellerID string) ([]model.Effect, error) {
	effects, err := q.store.FindBySeller(ctx, sellerID)
	if err != nil {
		q.logger.Error("get effects by seller failed", zap.String("seller", sellerID), zap.Error(err))
	}
	return effects, err
}

// GetEffect returns nil, nil when the effect does not exist.
func (q *EffectQuery) GetEffect(ctx context.Context, id string) (*model.Effect, error) {
	effect, err := q.store.Get(ctx, id)
	if err != nil {
		q.logger.Error("get effect failed", zap.String("effect_id", id), zap.Error(err))
	}
	return effect, err
}
