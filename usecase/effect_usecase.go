package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"effect-service/dao"
	"effect-service/model"
	"effect-service/pkg/idgen"
)

// EffectUsecase owns the effect lifecycle: InStock -> OnAuction -> Sold.
type EffectUsecase struct {
	store  dao.EffectStore
	logger *zap.Logger
	newID  func() string
}

func NewEffectUsecase(store dao.EffectStore, logger *zap.Logger) *EffectUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EffectUsecase{
		store:  store,
		logger: logger.Named("lifecycle"),
		newID:  idgen.NewID,
	}
}

// Create stores a new effect. The caller's status and sale details are discarded:
// every effect starts in stock.
func (u *EffectUsecase) Create(ctx context.Context, effect model.Effect) (*model.Effect, error) {
	effect.ID = strings.TrimSpace(effect.ID)
	if effect.ID == "" {
		effect.ID = u.newID()
	}
	if err := model.CheckPrice("minimum price", effect.MinimumPrice); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	effect.Status = model.StatusInStock
	effect.Buyer = nil
	effect.SoldFor = decimal.NullDecimal{}

	if _, err := u.store.Create(ctx, effect); err != nil {
		if errors.Is(err, dao.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrEffectExists, effect.ID)
		}
		u.logger.Error("create effect failed", zap.String("effect_id", effect.ID), zap.Error(err))
		return nil, err
	}

	u.logger.Info("effect created",
		zap.String("effect_id", effect.ID),
		zap.String("seller", effect.Seller),
		zap.Stringer("minimum_price", effect.MinimumPrice),
	)
	return &effect, nil
}

// Update replaces the whole record, status included, without consulting the state
// machine. The sold invariant is still enforced.
func (u *EffectUsecase) Update(ctx context.Context, effect model.Effect) (bool, error) {
	if strings.TrimSpace(effect.ID) == "" {
		return false, fmt.Errorf("%w: effect id is required", ErrInvalidInput)
	}
	if !effect.Status.Valid() {
		return false, fmt.Errorf("%w: unknown effect status %q", ErrInvalidInput, effect.Status)
	}
	if err := model.CheckPrice("minimum price", effect.MinimumPrice); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if effect.SoldFor.Valid {
		if err := model.CheckPrice("sale price", effect.SoldFor.Decimal); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if err := effect.CheckSoldInvariant(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	u.logger.Warn("full effect update bypasses lifecycle",
		zap.String("effect_id", effect.ID),
		zap.String("status", string(effect.Status)),
	)
	changed, err := u.store.Update(ctx, effect)
	if err != nil {
		u.logger.Error("update effect failed", zap.String("effect_id", effect.ID), zap.Error(err))
		return false, err
	}
	return changed, nil
}

func (u *EffectUsecase) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := u.store.Delete(ctx, id)
	if err != nil {
		u.logger.Error("delete effect failed", zap.String("effect_id", id), zap.Error(err))
		return false, err
	}
	u.logger.Info("effect deleted", zap.String("effect_id", id), zap.Bool("removed", removed))
	return removed, nil
}

func (u *EffectUsecase) TransferToAuction(ctx context.Context, id string) error {
	return u.transition(ctx, id, model.Transition{
		From: model.StatusInStock,
		To:   model.StatusOnAuction,
	}, "Effect must be in stock to transfer to auction")
}

func (u *EffectUsecase) MarkAsSold(ctx context.Context, id, buyerID string, soldFor decimal.Decimal) error {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return fmt.Errorf("%w: buyer id is required", ErrInvalidInput)
	}
	if err := model.CheckPrice("sale price", soldFor); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return u.transition(ctx, id, model.Transition{
		From:    model.StatusOnAuction,
		To:      model.StatusSold,
		Buyer:   &buyerID,
		SoldFor: decimal.NewNullDecimal(soldFor),
	}, "Effect must be on auction to be marked as sold")
}

// transition issues one conditional write. Only when it changes nothing does it read
// the record back, to tell a missing effect from one in the wrong status.
func (u *EffectUsecase) transition(ctx context.Context, id string, t model.Transition, reason string) error {
	log := u.logger.With(
		zap.String("effect_id", id),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
	)

	applied, err := u.store.ApplyTransition(ctx, id, t)
	if err != nil {
		log.Error("effect transition failed", zap.Error(err))
		return err
	}
	if applied {
		log.Info("effect transitioned")
		return nil
	}

	current, err := u.store.Get(ctx, id)
	if err != nil {
		log.Error("effect transition lookup failed", zap.Error(err))
		return err
	}
	if current == nil {
		return ErrEffectNotFound
	}
	if current.Status != t.From {
		log.Info("effect transition rejected", zap.String("status", string(current.Status)))
		return &PreconditionError{EffectID: id, Status: current.Status, Reason: reason}
	}
	log.Warn("effect transition not applied")
	return ErrTransitionNotApplied
}
