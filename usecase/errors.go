package usecase

import (
	"errors"

	"effect-service/model"
)

var (
	ErrEffectNotFound = errors.New("effect not found")
	ErrEffectExists   = errors.New("effect already exists")
	// ErrPreconditionFailed matches every *PreconditionError.
	ErrPreconditionFailed = errors.New("effect precondition failed")
	// ErrTransitionNotApplied means the conditional write changed nothing even though
	// the effect was still in the expected status.
	ErrTransitionNotApplied = errors.New("effect transition was not applied")
	ErrInvalidInput         = errors.New("invalid input")
	// ErrAuctionServiceFailed wraps errors from the auction service; the effect is
	// left untouched.
	ErrAuctionServiceFailed = errors.New("auction service failed")
	// ErrAuctionCreatedTransferFailed means the auction exists but the effect is still
	// in stock; someone has to reconcile the two by hand.
	ErrAuctionCreatedTransferFailed = errors.New("auction created but effect transfer failed")
)

// PreconditionError reports a lifecycle rule the effect's current status violates.
type PreconditionError struct {
	EffectID string
	Status   model.EffectStatus
	Reason   string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}
