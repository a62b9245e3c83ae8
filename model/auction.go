package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const AuctionStatusOnGoing = "OnGoing"

// AuctionDraft is the auction record the auction service receives for an effect.
type AuctionDraft struct {
	AuctionID     string          `json:"auctionId"`
	Title         string          `json:"auctionTitle"`
	Description   string          `json:"description"`
	Image         string          `json:"image,omitempty"`
	StartDate     time.Time       `json:"startDate"`
	EndDate       time.Time       `json:"endDate"`
	Status        string          `json:"auctionStatus"`
	MinimumPrice  decimal.Decimal `json:"minimumPrice"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	EffectID      string          `json:"effectId"`
	UserID        string          `json:"userId"`
	AppraisalID   string          `json:"appraisalId"`
}
