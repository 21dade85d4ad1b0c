package models

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// Amount is a monetary value in minor units (cents). It is encoded on the
// wire as a decimal number of major units, e.g. 60.5.
type Amount int64

// MaxAmount bounds goals and donations so sums never overflow int64.
const MaxAmount Amount = 1_000_000_000_000 * 100

var (
	ErrAmountNotFinite = errors.New("amount must be a finite number")
	ErrAmountNotPos    = errors.New("amount must be greater than zero")
	ErrAmountTooLarge  = errors.New("amount is too large")
)

// AmountFromFloat converts a major-unit value to an Amount, rounding to the
// nearest cent. Non-finite, non-positive and oversized values are rejected.
func AmountFromFloat(v float64) (Amount, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrAmountNotFinite
	}
	cents := math.Round(v * 100)
	if cents <= 0 {
		return 0, ErrAmountNotPos
	}
	if cents > float64(MaxAmount) {
		return 0, ErrAmountTooLarge
	}
	return Amount(cents), nil
}

// Float returns the value in major units.
func (a Amount) Float() float64 {
	return float64(a) / 100
}

func (a Amount) String() string {
	return strconv.FormatFloat(a.Float(), 'f', 2, 64)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(a.Float(), 'f', -1, 64)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = Amount(math.Round(v * 100))
	return nil
}
