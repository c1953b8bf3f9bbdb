// README: Common money value object used across modules.
package types

import "math"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// RoundUnits rounds v half away from zero to whole currency units.
func RoundUnits(v float64) int64 {
	return int64(math.Round(v))
}
