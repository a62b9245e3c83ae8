package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"effect-service/model"
)

const (
	auctionStartDelay = 24 * time.Hour
	auctionDuration   = 7 * 24 * time.Hour
)

// AuctionCreator hands a new auction to the auction service.
type AuctionCreator interface {
	CreateAuction(ctx context.Context, draft model.AuctionDraft) error
}

// Transferer moves an effect onto an auction.
type Transferer interface {
	TransferToAuction(ctx context.Context, id string) error
}

// AuctionUsecase puts an in-stock effect up for auction. Creating the auction and
// transferring the effect are two independent calls; nothing rolls back the first
// when the second fails.
type AuctionUsecase struct {
	effects   EffectReader
	lifecycle Transferer
	auctions  AuctionCreator
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuctionUsecase(effects EffectReader, lifecycle Transferer, auctions AuctionCreator, logger *zap.Logger) *AuctionUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuctionUsecase{
		effects:   effects,
		lifecycle: lifecycle,
		auctions:  auctions,
		logger:    logger.Named("auction"),
		now:       time.Now,
	}
}

// PrepareAuction builds the auction an effect would be listed under, without
// creating it.
func (u *AuctionUsecase) PrepareAuction(ctx context.Context, effectID string) (*model.AuctionDraft, error) {
	effect, err := u.loadEffect(ctx, effectID)
	if err != nil {
		return nil, err
	}
	draft := u.draftFor(effect)
	return &draft, nil
}

// CreateAuctionFromEffect creates the auction and then transfers the effect. Zero
// start or end times fall back to the defaults PrepareAuction uses.
func (u *AuctionUsecase) CreateAuctionFromEffect(ctx context.Context, effectID string, start, end time.Time) (*model.AuctionDraft, error) {
	effect, err := u.loadEffect(ctx, effectID)
	if err != nil {
		return nil, err
	}
	if effect.Status != model.StatusInStock {
		return nil, &PreconditionError{
			EffectID: effect.ID,
			Status:   effect.Status,
			Reason:   "Effect must be in stock to create an auction",
		}
	}

	draft := u.draftFor(effect)
	if !start.IsZero() {
		draft.StartDate = start
	}
	if !end.IsZero() {
		draft.EndDate = end
	}
	if !draft.EndDate.After(draft.StartDate) {
		return nil, fmt.Errorf("%w: auction must end after it starts", ErrInvalidInput)
	}

	if err := u.auctions.CreateAuction(ctx, draft); err != nil {
		u.logger.Error("create auction failed", zap.String("effect_id", effect.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAuctionServiceFailed, err)
	}

	if err := u.lifecycle.TransferToAuction(ctx, effect.ID); err != nil {
		u.logger.Error("auction created but effect not transferred",
			zap.String("effect_id", effect.ID),
			zap.String("auction_id", draft.AuctionID),
			zap.Error(err),
		)
		return &draft, fmt.Errorf("%w: auction %s: %w", ErrAuctionCreatedTransferFailed, draft.AuctionID, err)
	}

	u.logger.Info("auction created from effect",
		zap.String("effect_id", effect.ID),
		zap.String("auction_id", draft.AuctionID),
	)
	return &draft, nil
}

func (u *AuctionUsecase) loadEffect(ctx context.Context, effectID string) (*model.Effect, error) {
	effect, err := u.effects.GetEffect(ctx, effectID)
	if err != nil {
		return nil, err
	}
	if effect == nil {
		return nil, ErrEffectNotFound
	}
	return effect, nil
}

func (u *AuctionUsecase) draftFor(effect *model.Effect) model.AuctionDraft {
	start := u.now().UTC().Add(auctionStartDelay)
	return model.AuctionDraft{
		AuctionID:     uuid.NewString(),
		Title:         effect.Title,
		Description:   effect.Description,
		Image:         effect.Image,
		StartDate:     start,
		EndDate:       start.Add(auctionDuration),
		Status:        model.AuctionStatusOnGoing,
		MinimumPrice:  effect.MinimumPrice,
		StartingPrice: effect.MinimumPrice,
		EffectID:      effect.ID,
		UserID:        effect.Seller,
		AppraisalID:   effect.AppraisalID,
	}
}
