// README: Booking aggregate, status state machine and offline policy definitions.
package booking

import (
	"time"

	"namma/internal/modules/location"
	"namma/internal/modules/vehicle"
	"namma/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllowedTransitions represents the booking state flow as code. Terminal
// states have no entry.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusOngoing, StatusCancelled},
	StatusOngoing:   {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus maps a wire value onto the closed status set.
func ParseStatus(v string) (Status, bool) {
	switch Status(v) {
	case StatusPending, StatusConfirmed, StatusOngoing, StatusCompleted, StatusCancelled:
		return Status(v), true
	}
	return "", false
}

type Driver struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	CarNumber string  `json:"carNumber"`
	Rating    float64 `json:"rating"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Booking struct {
	ID                 types.ID          `json:"id"`
	TravelerID         types.ID          `json:"userId"`
	StartLocation      location.Location `json:"startLocation"`
	EndLocation        location.Location `json:"endLocation"`
	Vehicle            vehicle.Vehicle   `json:"vehicle"`
	Fare               int64             `json:"fare"`
	Currency           string            `json:"currency,omitempty"`
	Status             Status            `json:"status"`
	AmountPaid         int64             `json:"amountPaid"`
	AmountPending      int64             `json:"amountPending"`
	PickupInstructions string            `json:"pickupInstructions,omitempty"`
	Driver             *Driver           `json:"driver,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	Rating             *int              `json:"rating,omitempty"`
	Feedback           string            `json:"feedback,omitempty"`
	// ClientRef is the local id a booking was queued under before the backend accepted it.
	ClientRef string `json:"clientRef,omitempty"`
	// Provisional bookings exist only in this gateway and have not been accepted by the backend.
	Provisional bool `json:"provisional,omitempty"`
}

// clone deep-copies the pointer fields so callers never share state with a session.
func (b Booking) clone() Booking {
	if b.Driver != nil {
		d := *b.Driver
		b.Driver = &d
	}
	if b.Rating != nil {
		r := *b.Rating
		b.Rating = &r
	}
	return b
}

// settle restores fare == paid + pending with both sides non-negative.
// It reports whether anything had to change.
func (b *Booking) settle() bool {
	orig := *b
	if b.Fare < 0 {
		b.Fare = 0
	}
	if b.AmountPaid < 0 {
		b.AmountPaid = 0
	}
	if b.AmountPaid > b.Fare {
		b.AmountPaid = b.Fare
	}
	b.AmountPending = b.Fare - b.AmountPaid
	return orig.Fare != b.Fare || orig.AmountPaid != b.AmountPaid || orig.AmountPending != b.AmountPending
}

// Event is an entry in the booking journal.
type Event struct {
	ID         int64     `json:"id"`
	BookingID  types.ID  `json:"bookingId"`
	TravelerID types.ID  `json:"userId"`
	Kind       string    `json:"kind"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	EventCreated      = "created"
	EventStatus       = "status"
	EventInstructions = "instructions"
	EventRating       = "rating"
	EventPayment      = "payment"
	EventSynced       = "synced"
	EventRejected     = "rejected"
)

// OfflinePolicy decides what Create does when the backend cannot be reached.
type OfflinePolicy string

const (
	// PolicyReject surfaces a CreationError and changes nothing.
	PolicyReject OfflinePolicy = "reject"
	// PolicyQueue keeps a pending provisional booking and resubmits it later.
	PolicyQueue OfflinePolicy = "queue"
	// PolicySynthesize keeps a confirmed provisional booking with a placeholder driver.
	PolicySynthesize OfflinePolicy = "synthesize"
)

func ParseOfflinePolicy(v string) (OfflinePolicy, bool) {
	switch OfflinePolicy(v) {
	case PolicyReject, PolicyQueue, PolicySynthesize:
		return OfflinePolicy(v), true
	}
	return "", false
}

// CreateRequest is the payload submitted to the backend booking API.
type CreateRequest struct {
	ClientRef          string            `json:"clientRef,omitempty"`
	StartLocation      location.Location `json:"startLocation"`
	EndLocation        location.Location `json:"endLocation"`
	VehicleID          string            `json:"vehicleId"`
	PickupInstructions string            `json:"pickupInstructions,omitempty"`
}
