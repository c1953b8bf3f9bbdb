// README: Booking journal backed by PostgreSQL.
package booking

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"namma/internal/types"
)

// Journal records every booking mutation. Failures are logged by the Service and
// never fail the operation that produced them.
type Journal interface {
	SaveBooking(ctx context.Context, b *Booking) error
	ReplaceProvisional(ctx context.Context, localID types.ID, b *Booking) error
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, bookingID types.ID) ([]Event, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
    id              TEXT PRIMARY KEY,
    traveler_id     TEXT NOT NULL,
    status          TEXT NOT NULL,
    fare            BIGINT NOT NULL,
    amount_paid     BIGINT NOT NULL,
    amount_pending  BIGINT NOT NULL,
    provisional     BOOLEAN NOT NULL DEFAULT FALSE,
    payload         JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS bookings_traveler_idx ON bookings (traveler_id);
CREATE TABLE IF NOT EXISTS booking_events (
    id           BIGSERIAL PRIMARY KEY,
    booking_id   TEXT NOT NULL,
    traveler_id  TEXT NOT NULL,
    kind         TEXT NOT NULL,
    from_status  TEXT NOT NULL,
    to_status    TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL
);`

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

const upsertBooking = `
INSERT INTO bookings (
    id, traveler_id, status, fare, amount_paid, amount_pending,
    provisional, payload, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    fare = EXCLUDED.fare,
    amount_paid = EXCLUDED.amount_paid,
    amount_pending = EXCLUDED.amount_pending,
    provisional = EXCLUDED.provisional,
    payload = EXCLUDED.payload,
    updated_at = now()`

func (s *Store) SaveBooking(ctx context.Context, b *Booking) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, upsertBooking,
		string(b.ID),
		string(b.TravelerID),
		string(b.Status),
		b.Fare,
		b.AmountPaid,
		b.AmountPending,
		b.Provisional,
		payload,
		b.CreatedAt,
	)
	return err
}

// ReplaceProvisional swaps a locally created row for the one the backend accepted.
func (s *Store) ReplaceProvisional(ctx context.Context, localID types.ID, b *Booking) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM bookings WHERE id = $1 AND provisional`, string(localID)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsertBooking,
		string(b.ID), string(b.TravelerID), string(b.Status),
		b.Fare, b.AmountPaid, b.AmountPending, b.Provisional, payload, b.CreatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE booking_events SET booking_id = $2 WHERE booking_id = $1`, string(localID), string(b.ID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO booking_events (booking_id, traveler_id, kind, from_status, to_status, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.BookingID),
		string(e.TravelerID),
		e.Kind,
		string(e.FromStatus),
		string(e.ToStatus),
		e.Detail,
		e.CreatedAt,
	)
	return err
}

// Events lists the journal for one booking, oldest first.
func (s *Store) Events(ctx context.Context, bookingID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, booking_id, traveler_id, kind, from_status, to_status, detail, created_at
        FROM booking_events
        WHERE booking_id = $1
        ORDER BY id`, string(bookingID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.BookingID, &e.TravelerID, &e.Kind, &e.FromStatus, &e.ToStatus, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
