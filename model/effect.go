package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type EffectStatus string

const (
	StatusInStock   EffectStatus = "InStock"
	StatusOnAuction EffectStatus = "OnAuction"
	StatusSold      EffectStatus = "Sold"
)

// statusOrder matches the ordinals other services still send.
var statusOrder = []EffectStatus{StatusInStock, StatusOnAuction, StatusSold}

// ParseEffectStatus accepts a status name in any case or its ordinal ("0", "1", "2").
func ParseEffectStatus(raw string) (EffectStatus, error) {
	value := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 || n >= len(statusOrder) {
			return "", fmt.Errorf("unknown effect status %q", raw)
		}
		return statusOrder[n], nil
	}
	for _, s := range statusOrder {
		if strings.EqualFold(string(s), value) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown effect status %q", raw)
}

func (s EffectStatus) Valid() bool {
	switch s {
	case StatusInStock, StatusOnAuction, StatusSold:
		return true
	}
	return false
}

func (s *EffectStatus) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		var ordinal int
		if err := json.Unmarshal(data, &ordinal); err != nil {
			return fmt.Errorf("effect status must be a string or ordinal: %s", data)
		}
		text = strconv.Itoa(ordinal)
	}
	parsed, err := ParseEffectStatus(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Effect is a sellable item moving from appraisal to sale.
type Effect struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Image        string              `json:"image"`
	Seller       string              `json:"seller"`
	MinimumPrice decimal.Decimal     `json:"minimumPrice"`
	Status       EffectStatus        `json:"status"`
	AppraisalID  string              `json:"appraisalId"`
	Buyer        *string             `json:"buyer,omitempty"` // Nullable until sold
	SoldFor      decimal.NullDecimal `json:"soldFor"`
}

// CheckSoldInvariant reports whether buyer and sale price are present exactly when
// the effect is sold.
func (e Effect) CheckSoldInvariant() error {
	hasSale := e.Buyer != nil && e.SoldFor.Valid
	switch {
	case e.Status == StatusSold && !hasSale:
		return fmt.Errorf("sold effect %s needs both buyer and sale price", e.ID)
	case e.Status != StatusSold && (e.Buyer != nil || e.SoldFor.Valid):
		return fmt.Errorf("effect %s is %s but carries sale details", e.ID, e.Status)
	}
	return nil
}

// PriceScale is the number of decimal places prices are stored with.
const PriceScale = 2

// CheckPrice rejects negative prices and prices finer than PriceScale, which the
// store would otherwise round.
func CheckPrice(field string, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%s must not be negative", field)
	}
	if !price.Equal(price.Truncate(PriceScale)) {
		return fmt.Errorf("%s must have at most %d decimal places", field, PriceScale)
	}
	return nil
}

// Transition is one guarded status change. Buyer and SoldFor are written as given,
// so moving to any status other than Sold clears them.
type Transition struct {
	From    EffectStatus
	To      EffectStatus
	Buyer   *string
	SoldFor decimal.NullDecimal
}

// SoldEffect is the mark-as-sold request body.
// SoldFor is nullable so a missing price can be told apart from a sale at zero.
type SoldEffect struct {
	BuyerID string              `json:"buyerId"`
	SoldFor decimal.NullDecimal `json:"soldFor"`
}
