// README: Booking service owns traveler sessions and applies the booking lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"namma/internal/domain"
	"namma/internal/modules/location"
	"namma/internal/modules/pricing"
	"namma/internal/modules/vehicle"
	"namma/internal/types"
)

type Backend interface {
	CreateBooking(ctx context.Context, travelerID types.ID, req CreateRequest) (Booking, error)
	UpdateInstructions(ctx context.Context, travelerID, bookingID types.ID, text string) error
	SubmitFeedback(ctx context.Context, travelerID, bookingID types.ID, rating int, feedback string) error
	ConfirmedBookings(ctx context.Context, travelerID types.ID) ([]Booking, error)
	BookingHistory(ctx context.Context, travelerID types.ID) ([]Booking, error)
}

type Pricer interface {
	Quote(ctx context.Context, start, end types.Point, v vehicle.Vehicle) pricing.Quote
}

// Notifier receives a copy of a booking after every mutation.
type Notifier interface {
	Publish(travelerID types.ID, b Booking)
}

// Notifiers fans a mutation out to several subscribers.
type Notifiers []Notifier

func (ns Notifiers) Publish(travelerID types.ID, b Booking) {
	for _, n := range ns {
		if n != nil {
			n.Publish(travelerID, b.clone())
		}
	}
}

var (
	ErrNotFound     = errors.New("booking not found")
	ErrInvalidState = errors.New("invalid state transition")
)

// CreationError reports that the backend did not accept a booking and no local
// fallback was applied.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("booking creation failed: %v", e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

type Deps struct {
	Backend  Backend
	Pricer   Pricer
	Journal  Journal
	Queue    OfflineQueue
	Notifier Notifier
	Policy   OfflinePolicy
	// SyncInterval drives RunSyncTicker; zero means 30s.
	SyncInterval time.Duration
	Log          logrus.FieldLogger
	Now          func() time.Time
}

type Service struct {
	backend  Backend
	pricer   Pricer
	journal  Journal
	queue    OfflineQueue
	notifier Notifier
	policy   OfflinePolicy
	interval time.Duration
	seq      *domain.Sequencer
	log      logrus.FieldLogger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[types.ID]*Session
}

func NewService(deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	policy := deps.Policy
	if _, ok := ParseOfflinePolicy(string(policy)); !ok {
		policy = PolicyQueue
	}
	queue := deps.Queue
	if queue == nil && policy == PolicyQueue {
		queue = NewMemoryQueue()
	}
	interval := deps.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		backend:  deps.Backend,
		pricer:   deps.Pricer,
		journal:  deps.Journal,
		queue:    queue,
		notifier: deps.Notifier,
		policy:   policy,
		interval: interval,
		seq:      domain.NewSequencer(),
		log:      log.WithField("module", "booking"),
		now:      now,
		sessions: make(map[types.ID]*Session),
	}
}

func (s *Service) Policy() OfflinePolicy {
	return s.policy
}

// lookupSession returns the traveler's session without creating one.
func (s *Service) lookupSession(travelerID types.ID) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[travelerID]
}

func (s *Service) session(travelerID types.ID) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[travelerID]
	if !ok {
		sess = newSession(travelerID)
		s.sessions[travelerID] = sess
	}
	return sess
}

type CreateCommand struct {
	TravelerID   types.ID `validate:"required"`
	Start        location.Location
	End          location.Location
	Vehicle      vehicle.Vehicle
	Instructions string `validate:"max=500"`
}

type InstructionsCommand struct {
	TravelerID types.ID `validate:"required"`
	BookingID  types.ID `validate:"required"`
	Text       string   `validate:"max=500"`
}

type RateCommand struct {
	TravelerID types.ID `validate:"required"`
	BookingID  types.ID `validate:"required"`
	Rating     int      `validate:"min=1,max=5"`
	Feedback   string   `validate:"max=500"`
}

type PaymentCommand struct {
	TravelerID types.ID `validate:"required"`
	BookingID  types.ID `validate:"required"`
	Amount     int64    `validate:"gt=0"`
}

// StatusEvent is a lifecycle update pushed by dispatch.
type StatusEvent struct {
	TravelerID types.ID `validate:"required"`
	BookingID  types.ID `validate:"required"`
	Status     Status   `validate:"required"`
	Driver     *Driver
}

// Create quotes the trip once, submits it and makes the result the traveler's
// current booking. Network failures are handled by the configured OfflinePolicy.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (Booking, error) {
	if err := validateCommand(cmd); err != nil {
		return Booking{}, err
	}
	if cmd.Start.IsZero() {
		return Booking{}, &domain.ValidationError{Field: "startLocation", Msg: "no pickup chosen"}
	}
	if cmd.End.IsZero() {
		return Booking{}, &domain.ValidationError{Field: "endLocation", Msg: "no destination chosen"}
	}
	if !cmd.Start.Point().Valid() || !cmd.End.Point().Valid() {
		return Booking{}, &domain.ValidationError{Field: "coordinates", Msg: "latitude/longitude out of range"}
	}
	if cmd.Vehicle.ID == "" {
		return Booking{}, &domain.ValidationError{Field: "vehicle", Msg: "no vehicle chosen"}
	}

	quote := s.quote(ctx, cmd)
	local := Booking{
		TravelerID:         cmd.TravelerID,
		StartLocation:      cmd.Start,
		EndLocation:        cmd.End,
		Vehicle:            cmd.Vehicle,
		Fare:               quote.Total.Amount,
		Currency:           quote.Total.Currency,
		Status:             StatusPending,
		AmountPending:      quote.Total.Amount,
		PickupInstructions: cmd.Instructions,
		CreatedAt:          s.now(),
	}
	req := CreateRequest{
		StartLocation:      cmd.Start,
		EndLocation:        cmd.End,
		VehicleID:          cmd.Vehicle.ID,
		PickupInstructions: cmd.Instructions,
	}

	log := s.log.WithFields(logrus.Fields{"traveler_id": cmd.TravelerID, "vehicle_id": cmd.Vehicle.ID})

	var created Booking
	var err error
	if s.backend == nil {
		err = &domain.NetworkError{Op: "create booking", Err: errors.New("no backend configured")}
	} else {
		created, err = s.backend.CreateBooking(ctx, cmd.TravelerID, req)
	}

	var b Booking
	switch {
	case err == nil:
		b = mergeCreated(created, local)
	case domain.IsNetwork(err):
		log.WithError(err).WithField("policy", s.policy).Warn("backend unreachable during booking creation")
		b, err = s.offline(ctx, local, req, err)
		if err != nil {
			return Booking{}, err
		}
	default:
		return Booking{}, &CreationError{Err: err}
	}

	sess := s.session(cmd.TravelerID)
	sess.mu.Lock()
	c := b.clone()
	sess.current = &c
	sess.mu.Unlock()

	s.record(ctx, b, Event{Kind: EventCreated, FromStatus: StatusNone, ToStatus: b.Status})
	log.WithFields(logrus.Fields{"booking_id": b.ID, "fare": b.Fare, "provisional": b.Provisional}).Info("booking created")
	return b, nil
}

func (s *Service) quote(ctx context.Context, cmd CreateCommand) pricing.Quote {
	if s.pricer == nil {
		return pricing.DefaultPolicy().Calculate(location.DistanceKm(cmd.Start.Point(), cmd.End.Point()), cmd.Vehicle.PricePerKm)
	}
	return s.pricer.Quote(ctx, cmd.Start.Point(), cmd.End.Point(), cmd.Vehicle)
}

// offline applies the OfflinePolicy to a booking the backend could not receive.
func (s *Service) offline(ctx context.Context, local Booking, req CreateRequest, cause error) (Booking, error) {
	switch s.policy {
	case PolicyQueue:
		local.ID = newLocalID()
		local.Provisional = true
		req.ClientRef = string(local.ID)
		sub := Submission{LocalID: local.ID, TravelerID: local.TravelerID, Request: req, QueuedAt: s.now(), Booking: local.clone()}
		if err := s.queue.Push(ctx, sub); err != nil {
			s.log.WithError(err).Error("offline queue push failed")
			return Booking{}, &CreationError{Err: cause}
		}
		return local, nil
	case PolicySynthesize:
		local.ID = newLocalID()
		local.Provisional = true
		local.Status = StatusConfirmed
		local.Driver = placeholderDriver(local.StartLocation)
		return local, nil
	default:
		return Booking{}, &CreationError{Err: cause}
	}
}

// UpdatePickupInstructions changes the free-text instructions on the current booking
// or a confirmed one. Repeating the same text is a no-op.
func (s *Service) UpdatePickupInstructions(ctx context.Context, cmd InstructionsCommand) (Booking, error) {
	if err := validateCommand(cmd); err != nil {
		return Booking{}, err
	}
	sess := s.session(cmd.TravelerID)

	sess.mu.Lock()
	b, ok := sess.findLocked(cmd.BookingID, true, true, false)
	past, inHistory := sess.findLocked(cmd.BookingID, false, false, true)
	sess.mu.Unlock()
	if !ok {
		if inHistory && past.Status.Terminal() {
			return Booking{}, ErrInvalidState
		}
		return Booking{}, ErrNotFound
	}
	if b.Status.Terminal() {
		return Booking{}, ErrInvalidState
	}
	if b.PickupInstructions == cmd.Text {
		return b, nil
	}

	if !b.Provisional {
		if s.backend == nil {
			return Booking{}, &domain.NetworkError{Op: "update instructions", Err: errors.New("no backend configured")}
		}
		if err := s.backend.UpdateInstructions(ctx, cmd.TravelerID, cmd.BookingID, cmd.Text); err != nil {
			return Booking{}, err
		}
	}

	sess.mu.Lock()
	n := sess.updateLocked(cmd.BookingID, func(b *Booking) { b.PickupInstructions = cmd.Text })
	b, _ = sess.findLocked(cmd.BookingID, true, true, false)
	sess.mu.Unlock()
	if n == 0 {
		return Booking{}, ErrNotFound
	}

	s.record(ctx, b, Event{Kind: EventInstructions, FromStatus: b.Status, ToStatus: b.Status, Detail: cmd.Text})
	return b, nil
}

// Rate attaches a rating and feedback to a completed booking from the confirmed or historical sets.
func (s *Service) Rate(ctx context.Context, cmd RateCommand) (Booking, error) {
	if err := validateCommand(cmd); err != nil {
		return Booking{}, err
	}
	sess := s.session(cmd.TravelerID)

	sess.mu.Lock()
	b, ok := sess.findLocked(cmd.BookingID, false, true, true)
	sess.mu.Unlock()
	if !ok {
		return Booking{}, ErrNotFound
	}
	if b.Status != StatusCompleted {
		return Booking{}, ErrInvalidState
	}

	if s.backend == nil {
		return Booking{}, &domain.NetworkError{Op: "submit feedback", Err: errors.New("no backend configured")}
	}
	if err := s.backend.SubmitFeedback(ctx, cmd.TravelerID, cmd.BookingID, cmd.Rating, cmd.Feedback); err != nil {
		return Booking{}, err
	}

	sess.mu.Lock()
	sess.updateLocked(cmd.BookingID, func(b *Booking) {
		r := cmd.Rating
		b.Rating = &r
		b.Feedback = cmd.Feedback
	})
	b, _ = sess.findLocked(cmd.BookingID, false, true, true)
	sess.mu.Unlock()

	s.record(ctx, b, Event{Kind: EventRating, FromStatus: b.Status, ToStatus: b.Status, Detail: fmt.Sprintf("%d", cmd.Rating)})
	return b, nil
}

// FetchConfirmed replaces the confirmed set with the backend's view. On failure the
// set is emptied and the error returned. A response overtaken by a newer fetch
// for the same traveler is dropped with domain.ErrStaleResponse.
func (s *Service) FetchConfirmed(ctx context.Context, travelerID types.ID) ([]Booking, error) {
	key := "confirmed:" + string(travelerID)
	tag := s.seq.Next(key)

	var list []Booking
	var err error
	if s.backend == nil {
		err = &domain.NetworkError{Op: "fetch confirmed bookings", Err: errors.New("no backend configured")}
	} else {
		list, err = s.backend.ConfirmedBookings(ctx, travelerID)
	}

	sess := s.session(travelerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !s.seq.IsLatest(key, tag) {
		return nil, domain.ErrStaleResponse
	}
	if err != nil {
		sess.confirmed = nil
		return []Booking{}, err
	}

	active := make([]Booking, 0, len(list))
	for _, b := range list {
		b = s.normalize(travelerID, b)
		if b.Status.Terminal() {
			if i := indexOf(sess.history, b.ID); i >= 0 {
				sess.history[i] = b
			} else {
				sess.history = append(sess.history, b)
			}
			continue
		}
		active = append(active, b)
	}
	sess.confirmed = active
	if sess.current != nil && reconciled(*sess.current, list) {
		sess.current = nil
	}
	return cloneAll(active), nil
}

// FetchHistory replaces the historical set with the backend's view, with the same
// failure and sequencing rules as FetchConfirmed.
func (s *Service) FetchHistory(ctx context.Context, travelerID types.ID) ([]Booking, error) {
	key := "history:" + string(travelerID)
	tag := s.seq.Next(key)

	var list []Booking
	var err error
	if s.backend == nil {
		err = &domain.NetworkError{Op: "fetch booking history", Err: errors.New("no backend configured")}
	} else {
		list, err = s.backend.BookingHistory(ctx, travelerID)
	}

	sess := s.session(travelerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !s.seq.IsLatest(key, tag) {
		return nil, domain.ErrStaleResponse
	}
	if err != nil {
		sess.history = nil
		return []Booking{}, err
	}

	history := make([]Booking, 0, len(list))
	for _, b := range list {
		history = append(history, s.normalize(travelerID, b))
	}
	sess.history = history
	return cloneAll(history), nil
}

// Current returns the traveler's in-flight booking, if any.
func (s *Service) Current(travelerID types.ID) (Booking, bool) {
	snap := s.session(travelerID).snapshot()
	if snap.Current == nil {
		return Booking{}, false
	}
	return *snap.Current, true
}

// ClearCurrent forgets the current booking without changing its status. A
// provisional booking still waiting in the offline queue is marked abandoned so
// no replica resubmits it.
func (s *Service) ClearCurrent(ctx context.Context, travelerID types.ID) {
	sess := s.session(travelerID)
	sess.mu.Lock()
	cur := sess.current
	sess.current = nil
	sess.mu.Unlock()

	if cur == nil || !cur.Provisional || s.policy != PolicyQueue || s.queue == nil {
		return
	}
	if err := s.queue.Abandon(ctx, cur.ID); err != nil {
		s.log.WithError(err).WithField("local_id", cur.ID).Warn("could not mark queued booking abandoned")
	}
}

func (s *Service) Snapshot(travelerID types.ID) Snapshot {
	return s.session(travelerID).snapshot()
}

// RecordPayment moves amount from pending to paid on every copy of the booking.
func (s *Service) RecordPayment(ctx context.Context, cmd PaymentCommand) (Booking, error) {
	if err := validateCommand(cmd); err != nil {
		return Booking{}, err
	}
	sess := s.session(cmd.TravelerID)

	sess.mu.Lock()
	b, ok := sess.findLocked(cmd.BookingID, true, true, true)
	if !ok {
		sess.mu.Unlock()
		return Booking{}, ErrNotFound
	}
	if b.Status == StatusCancelled {
		sess.mu.Unlock()
		return Booking{}, ErrInvalidState
	}
	if cmd.Amount > b.AmountPending {
		sess.mu.Unlock()
		return Booking{}, &domain.ValidationError{Field: "amount", Msg: fmt.Sprintf("exceeds pending amount %d", b.AmountPending)}
	}
	sess.updateLocked(cmd.BookingID, func(b *Booking) {
		b.AmountPaid += cmd.Amount
		b.settle()
	})
	b, _ = sess.findLocked(cmd.BookingID, true, true, true)
	sess.mu.Unlock()

	s.record(ctx, b, Event{Kind: EventPayment, FromStatus: b.Status, ToStatus: b.Status, Detail: fmt.Sprintf("%d", cmd.Amount)})
	return b, nil
}

// ApplyDispatchEvent advances a booking along the state machine. Redelivery of the
// current status is accepted and changes nothing.
func (s *Service) ApplyDispatchEvent(ctx context.Context, ev StatusEvent) (Booking, error) {
	if err := validateCommand(ev); err != nil {
		return Booking{}, err
	}
	if _, ok := ParseStatus(string(ev.Status)); !ok {
		return Booking{}, &domain.ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", ev.Status)}
	}
	sess := s.session(ev.TravelerID)

	sess.mu.Lock()
	b, ok := sess.findLocked(ev.BookingID, true, true, false)
	if !ok {
		sess.mu.Unlock()
		if _, done := s.findHistory(sess, ev.BookingID); done {
			return Booking{}, ErrInvalidState
		}
		return Booking{}, ErrNotFound
	}
	if b.Status == ev.Status {
		sess.mu.Unlock()
		return b, nil
	}
	if !CanTransition(b.Status, ev.Status) {
		sess.mu.Unlock()
		return Booking{}, ErrInvalidState
	}
	from := b.Status
	apply := func(b *Booking) {
		b.Status = ev.Status
		if ev.Status == StatusConfirmed && ev.Driver != nil {
			d := *ev.Driver
			b.Driver = &d
		}
	}
	if ev.Status.Terminal() {
		apply(&b)
		sess.retireLocked(b)
	} else {
		sess.updateLocked(ev.BookingID, apply)
		b, _ = sess.findLocked(ev.BookingID, true, true, false)
	}
	sess.mu.Unlock()

	s.record(ctx, b, Event{Kind: EventStatus, FromStatus: from, ToStatus: b.Status})
	return b, nil
}

// Events returns the journaled timeline of one of the traveler's bookings,
// oldest first. Bookings that belong to another traveler read as not found.
func (s *Service) Events(ctx context.Context, travelerID, bookingID types.ID) ([]Event, error) {
	if travelerID == "" || bookingID == "" {
		return nil, ErrNotFound
	}
	sess := s.session(travelerID)
	sess.mu.Lock()
	_, known := sess.findLocked(bookingID, true, true, true)
	sess.mu.Unlock()

	if s.journal == nil {
		if !known {
			return nil, ErrNotFound
		}
		return []Event{}, nil
	}
	events, err := s.journal.Events(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.TravelerID != travelerID {
			return nil, ErrNotFound
		}
	}
	if len(events) == 0 && !known {
		return nil, ErrNotFound
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// reconciled reports whether the backend list already holds cur, either under
// its own id or, for a provisional booking, under the local id it was queued with.
func reconciled(cur Booking, list []Booking) bool {
	for _, b := range list {
		if cur.Provisional {
			if b.ClientRef != "" && b.ClientRef == string(cur.ID) {
				return true
			}
			continue
		}
		if b.ID == cur.ID {
			return true
		}
	}
	return false
}

func (s *Service) findHistory(sess *Session, id types.ID) (Booking, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.findLocked(id, false, false, true)
}

// normalize fills defaults on a backend booking and restores the payment invariant.
func (s *Service) normalize(travelerID types.ID, b Booking) Booking {
	if st, ok := ParseStatus(string(b.Status)); ok {
		b.Status = st
	} else {
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "status": b.Status}).Warn("unknown booking status from backend, treating as pending")
		b.Status = StatusPending
	}
	if b.TravelerID == "" {
		b.TravelerID = travelerID
	}
	if b.settle() {
		s.log.WithField("booking_id", b.ID).Warn("backend booking amounts inconsistent, recomputed pending amount")
	}
	return b
}

// record journals and publishes a mutation. Neither may fail the caller.
func (s *Service) record(ctx context.Context, b Booking, e Event) {
	e.BookingID = b.ID
	e.TravelerID = b.TravelerID
	e.CreatedAt = s.now()
	if s.journal != nil {
		if err := s.journal.SaveBooking(ctx, &b); err != nil {
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("journal save failed")
		}
		if err := s.journal.AppendEvent(ctx, &e); err != nil {
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("journal append failed")
		}
	}
	if s.notifier != nil {
		s.notifier.Publish(b.TravelerID, b.clone())
	}
}

// mergeCreated takes identity and lifecycle fields from the backend and keeps the
// locally captured trip details and fare.
func mergeCreated(created, local Booking) Booking {
	b := local
	b.ID = created.ID
	if st, ok := ParseStatus(string(created.Status)); ok {
		b.Status = st
	}
	if created.Driver != nil {
		d := *created.Driver
		b.Driver = &d
	}
	if !created.CreatedAt.IsZero() {
		b.CreatedAt = created.CreatedAt
	}
	if created.Fare > 0 {
		b.Fare = created.Fare
	}
	if created.PickupInstructions != "" {
		b.PickupInstructions = created.PickupInstructions
	}
	if created.ClientRef != "" {
		b.ClientRef = created.ClientRef
	}
	b.AmountPaid = 0
	b.AmountPending = b.Fare
	b.Provisional = false
	return b
}

func placeholderDriver(pickup location.Location) *Driver {
	return &Driver{
		ID:        "placeholder",
		Name:      "Driver assignment pending",
		Rating:    0,
		Latitude:  pickup.Latitude + 0.01,
		Longitude: pickup.Longitude + 0.01,
	}
}

func newLocalID() types.ID {
	return types.ID("local-" + uuid.NewString())
}
