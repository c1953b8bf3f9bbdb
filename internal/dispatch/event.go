// README: Dispatch status events and their application to traveler sessions.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"namma/internal/domain"
	"namma/internal/modules/booking"
	"namma/internal/types"
)

// Event is the wire form of a booking status change published by dispatch.
type Event struct {
	BookingID  string          `json:"booking_id"`
	TravelerID string          `json:"traveler_id"`
	Status     string          `json:"status"`
	Driver     *booking.Driver `json:"driver,omitempty"`
}

// ErrMalformed marks messages that can never be applied.
var ErrMalformed = errors.New("malformed dispatch event")

func Decode(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.BookingID == "" || ev.TravelerID == "" || ev.Status == "" {
		return Event{}, fmt.Errorf("%w: booking_id, traveler_id and status are required", ErrMalformed)
	}
	return ev, nil
}

type Applier interface {
	ApplyDispatchEvent(ctx context.Context, ev booking.StatusEvent) (booking.Booking, error)
}

// Handler decodes broker payloads and applies them. Every outcome is final:
// brokers ack regardless, so rejected events are only logged.
type Handler struct {
	applier Applier
	log     logrus.FieldLogger
}

func NewHandler(applier Applier, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{applier: applier, log: log.WithField("component", "dispatch")}
}

func (h *Handler) Handle(ctx context.Context, body []byte) error {
	ev, err := Decode(body)
	if err != nil {
		h.log.WithError(err).Warn("dropping dispatch message")
		return err
	}
	log := h.log.WithFields(logrus.Fields{"booking_id": ev.BookingID, "traveler_id": ev.TravelerID, "status": ev.Status})

	_, err = h.applier.ApplyDispatchEvent(ctx, booking.StatusEvent{
		TravelerID: types.ID(ev.TravelerID),
		BookingID:  types.ID(ev.BookingID),
		Status:     booking.Status(ev.Status),
		Driver:     ev.Driver,
	})
	switch {
	case err == nil:
		log.Debug("dispatch event applied")
	case errors.Is(err, booking.ErrNotFound):
		log.Info("dispatch event for unknown booking")
	case errors.Is(err, booking.ErrInvalidState), domain.IsValidation(err):
		log.WithError(err).Warn("dispatch event rejected")
	default:
		log.WithError(err).Error("dispatch event failed")
	}
	return err
}
