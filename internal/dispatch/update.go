package dispatch

import (
	"namma/internal/modules/booking"
	"namma/internal/types"
)

// Update is the outbound message announcing a booking change.
type Update struct {
	TravelerID string          `json:"traveler_id"`
	Booking    booking.Booking `json:"booking"`
}

func updateFrom(travelerID types.ID, b booking.Booking) Update {
	return Update{TravelerID: string(travelerID), Booking: b}
}
