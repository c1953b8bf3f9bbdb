// README: Background resubmission of bookings queued while the backend was unreachable.
package booking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"namma/internal/domain"
)

// RunSyncTicker drains the offline queue every sync interval until ctx is done.
func (s *Service) RunSyncTicker(ctx context.Context) {
	if s.queue == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SyncOnce(ctx); err != nil {
				s.log.WithError(err).Warn("offline sync round stopped")
			} else if n > 0 {
				s.log.WithField("synced", n).Info("offline bookings synced")
			}
		}
	}
}

// SyncOnce resubmits queued bookings in order. It stops at the first network
// failure, leaving that submission at the head of the queue, and reports how
// many bookings the backend accepted. Submissions are resubmitted even when this
// process holds no session for the traveler; only an explicit abandonment or a
// booking already finished locally drops one.
func (s *Service) SyncOnce(ctx context.Context) (int, error) {
	if s.queue == nil || s.backend == nil {
		return 0, nil
	}
	synced := 0
	for {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		sub, ok, err := s.queue.Pop(ctx)
		if err != nil {
			return synced, err
		}
		if !ok {
			return synced, nil
		}

		log := s.log.WithFields(logrus.Fields{"local_id": sub.LocalID, "traveler_id": sub.TravelerID})

		abandoned, err := s.queue.TakeAbandoned(ctx, sub.LocalID)
		if err != nil {
			s.requeue(ctx, log, sub)
			return synced, err
		}
		if abandoned {
			log.Info("queued booking abandoned by traveler, dropping")
			continue
		}

		sess := s.lookupSession(sub.TravelerID)
		local, inSession := Booking{}, false
		if sess != nil {
			sess.mu.Lock()
			local, inSession = sess.findLocked(sub.LocalID, true, true, true)
			sess.mu.Unlock()
		}
		if inSession && local.Status.Terminal() {
			log.WithField("status", local.Status).Info("queued booking already finished locally, dropping")
			continue
		}

		req := sub.Request
		req.ClientRef = string(sub.LocalID)
		if inSession {
			// Instructions may have been edited while queued.
			req.PickupInstructions = local.PickupInstructions
		} else {
			local = queuedBooking(sub)
		}

		created, err := s.backend.CreateBooking(ctx, sub.TravelerID, req)
		if err != nil {
			if domain.IsNetwork(err) {
				sub.Attempts++
				s.requeue(ctx, log, sub)
				return synced, err
			}
			log.WithError(err).Warn("backend rejected queued booking")
			s.reject(ctx, sess, inSession, local)
			continue
		}

		b := mergeCreated(created, local)
		b.ClientRef = string(sub.LocalID)
		if local.AmountPaid > 0 {
			b.AmountPaid = local.AmountPaid
			b.settle()
		}

		if inSession {
			sess.mu.Lock()
			replaced := sess.replaceLocked(sub.LocalID, b)
			sess.mu.Unlock()
			if !replaced {
				log.Info("queued booking left session during sync")
			}
		} else {
			log.WithField("booking_id", b.ID).Info("synced booking queued by another session")
		}

		if s.journal != nil {
			if err := s.journal.ReplaceProvisional(ctx, sub.LocalID, &b); err != nil {
				log.WithError(err).Warn("journal replace failed")
			}
		}
		s.record(ctx, b, Event{Kind: EventSynced, FromStatus: local.Status, ToStatus: b.Status, Detail: string(sub.LocalID)})
		synced++
	}
}

func (s *Service) requeue(ctx context.Context, log logrus.FieldLogger, sub Submission) {
	if err := s.queue.PushFront(ctx, sub); err != nil {
		log.WithError(err).Error("offline queue requeue failed, submission lost")
	}
}

// queuedBooking rebuilds the provisional booking from a submission. Entries
// queued without a snapshot carry only the request.
func queuedBooking(sub Submission) Booking {
	b := sub.Booking.clone()
	if b.ID == "" {
		b = Booking{
			StartLocation:      sub.Request.StartLocation,
			EndLocation:        sub.Request.EndLocation,
			Status:             StatusPending,
			PickupInstructions: sub.Request.PickupInstructions,
			CreatedAt:          sub.QueuedAt,
		}
	}
	b.ID = sub.LocalID
	b.TravelerID = sub.TravelerID
	b.Provisional = true
	b.settle()
	return b
}

// reject cancels a provisional booking the backend refused.
func (s *Service) reject(ctx context.Context, sess *Session, inSession bool, local Booking) {
	from := local.Status
	local.Status = StatusCancelled
	if inSession {
		sess.mu.Lock()
		sess.retireLocked(local)
		sess.mu.Unlock()
	}
	s.record(ctx, local, Event{Kind: EventRejected, FromStatus: from, ToStatus: StatusCancelled})
}
