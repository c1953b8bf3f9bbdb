// README: Booking service tests (lifecycle, offline policies, fetch sequencing).
package booking

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"namma/internal/domain"
	"namma/internal/modules/location"
	"namma/internal/modules/pricing"
	"namma/internal/modules/vehicle"
	"namma/internal/types"
)

type fakeBackend struct {
	mu sync.Mutex

	createFn    func(req CreateRequest) (Booking, error)
	confirmedFn func(call int) ([]Booking, error)
	historyFn   func(call int) ([]Booking, error)
	instrErr    error
	feedbackErr error

	createCalls    []CreateRequest
	instrCalls     int
	feedbackCalls  int
	confirmedCalls int
	historyCalls   int
}

func (f *fakeBackend) CreateBooking(_ context.Context, _ types.ID, req CreateRequest) (Booking, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, req)
	fn := f.createFn
	f.mu.Unlock()
	if fn == nil {
		return Booking{ID: "srv-1", Status: StatusPending}, nil
	}
	return fn(req)
}

func (f *fakeBackend) UpdateInstructions(context.Context, types.ID, types.ID, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instrCalls++
	return f.instrErr
}

func (f *fakeBackend) SubmitFeedback(context.Context, types.ID, types.ID, int, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackCalls++
	return f.feedbackErr
}

func (f *fakeBackend) ConfirmedBookings(context.Context, types.ID) ([]Booking, error) {
	f.mu.Lock()
	f.confirmedCalls++
	call, fn := f.confirmedCalls, f.confirmedFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(call)
}

func (f *fakeBackend) BookingHistory(context.Context, types.ID) ([]Booking, error) {
	f.mu.Lock()
	f.historyCalls++
	call, fn := f.historyCalls, f.historyFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(call)
}

type fakePricer struct{ fare int64 }

func (p fakePricer) Quote(context.Context, types.Point, types.Point, vehicle.Vehicle) pricing.Quote {
	return pricing.Quote{Total: types.Money{Amount: p.fare, Currency: "INR"}, Source: pricing.SourceLocal}
}

type fakeJournal struct {
	mu       sync.Mutex
	saved    []Booking
	events   []Event
	replaced map[types.ID]types.ID
}

func (j *fakeJournal) SaveBooking(_ context.Context, b *Booking) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saved = append(j.saved, *b)
	return nil
}

func (j *fakeJournal) ReplaceProvisional(_ context.Context, localID types.ID, b *Booking) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.replaced == nil {
		j.replaced = map[types.ID]types.ID{}
	}
	j.replaced[localID] = b.ID
	return nil
}

func (j *fakeJournal) AppendEvent(_ context.Context, e *Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, *e)
	return nil
}

func (j *fakeJournal) Events(_ context.Context, bookingID types.ID) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Event
	for _, e := range j.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *fakeJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []Booking
}

func (n *fakeNotifier) Publish(_ types.ID, b Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, b)
}

type harness struct {
	svc      *Service
	backend  *fakeBackend
	journal  *fakeJournal
	notifier *fakeNotifier
	queue    *MemoryQueue
}

func newHarness(t *testing.T, policy OfflinePolicy) *harness {
	t.Helper()
	h := &harness{
		backend:  &fakeBackend{},
		journal:  &fakeJournal{},
		notifier: &fakeNotifier{},
		queue:    NewMemoryQueue(),
	}
	h.svc = NewService(Deps{
		Backend:  h.backend,
		Pricer:   fakePricer{fare: 230},
		Journal:  h.journal,
		Queue:    h.queue,
		Notifier: h.notifier,
		Policy:   policy,
		Now:      func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	return h
}

var (
	mgRoad      = location.Location{ID: "2", Name: "MG Road", Latitude: 12.9716, Longitude: 77.5946}
	koramangala = location.Location{ID: "3", Name: "Koramangala", Latitude: 12.9279, Longitude: 77.6271}
	sedan       = vehicle.Vehicle{ID: "2", Type: "Sedan", Name: "Namma Sedan", PricePerKm: 16, Capacity: 4}
)

func createCmd(traveler types.ID) CreateCommand {
	return CreateCommand{TravelerID: traveler, Start: mgRoad, End: koramangala, Vehicle: sedan}
}

func mustCreate(t *testing.T, h *harness, traveler types.ID) Booking {
	t.Helper()
	b, err := h.svc.Create(context.Background(), createCmd(traveler))
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func networkDown(CreateRequest) (Booking, error) {
	return Booking{}, &domain.NetworkError{Op: "create booking", Err: errors.New("dial tcp: connection refused")}
}

func TestCreate_SetsCurrentWithPaymentInvariant(t *testing.T) {
	h := newHarness(t, PolicyQueue)

	b := mustCreate(t, h, "t1")
	if b.ID != "srv-1" || b.Status != StatusPending || b.Provisional {
		t.Fatalf("unexpected booking: %+v", b)
	}
	if b.Fare != 230 || b.AmountPaid != 0 || b.AmountPending != 230 {
		t.Errorf("fare=%d paid=%d pending=%d, want 230/0/230", b.Fare, b.AmountPaid, b.AmountPending)
	}
	cur, ok := h.svc.Current("t1")
	if !ok || cur.ID != b.ID {
		t.Fatalf("current = %+v, %v", cur, ok)
	}
	if got := h.backend.createCalls[0]; got.VehicleID != "2" || got.EndLocation.Name != "Koramangala" {
		t.Errorf("unexpected create request: %+v", got)
	}
	if kinds := h.journal.kinds(); len(kinds) != 1 || kinds[0] != EventCreated {
		t.Errorf("journal events = %v", kinds)
	}
	if len(h.notifier.published) != 1 {
		t.Errorf("published %d updates, want 1", len(h.notifier.published))
	}
}

func TestCreate_ServerFieldsWin(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	created := time.Date(2024, 3, 1, 8, 59, 0, 0, time.UTC)
	h.backend.createFn = func(CreateRequest) (Booking, error) {
		return Booking{ID: "srv-9", Status: StatusConfirmed, Fare: 300, CreatedAt: created, Driver: &Driver{ID: "d1", Name: "Ravi"}}, nil
	}

	b := mustCreate(t, h, "t1")
	if b.Fare != 300 || b.AmountPending != 300 {
		t.Errorf("fare=%d pending=%d, want 300/300", b.Fare, b.AmountPending)
	}
	if b.Status != StatusConfirmed || b.Driver == nil || b.Driver.ID != "d1" || !b.CreatedAt.Equal(created) {
		t.Errorf("server fields not applied: %+v", b)
	}
}

func TestCreate_ValidationLeavesNoState(t *testing.T) {
	cases := []struct {
		name  string
		mod   func(*CreateCommand)
		field string
	}{
		{"missing destination", func(c *CreateCommand) { c.End = location.Location{} }, "endLocation"},
		{"missing pickup", func(c *CreateCommand) { c.Start = location.Location{} }, "startLocation"},
		{"missing vehicle", func(c *CreateCommand) { c.Vehicle = vehicle.Vehicle{} }, "vehicle"},
		{"missing traveler", func(c *CreateCommand) { c.TravelerID = "" }, "travelerID"},
		{"instructions too long", func(c *CreateCommand) { c.Instructions = strings.Repeat("x", 501) }, "instructions"},
		{"bad coordinates", func(c *CreateCommand) { c.End.Latitude = 95 }, "coordinates"},
	}
	for _, tc := range cases {
		h := newHarness(t, PolicyQueue)
		cmd := createCmd("t1")
		tc.mod(&cmd)

		_, err := h.svc.Create(context.Background(), cmd)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: err = %v, want ValidationError", tc.name, err)
			continue
		}
		if verr.Field != tc.field {
			t.Errorf("%s: field = %q, want %q", tc.name, verr.Field, tc.field)
		}
		if len(h.backend.createCalls) != 0 {
			t.Errorf("%s: backend called", tc.name)
		}
		if _, ok := h.svc.Current("t1"); ok {
			t.Errorf("%s: current booking set", tc.name)
		}
	}
}

func TestCreate_OfflinePolicies(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		h := newHarness(t, PolicyReject)
		h.backend.createFn = networkDown

		_, err := h.svc.Create(context.Background(), createCmd("t1"))
		var cerr *CreationError
		if !errors.As(err, &cerr) || !domain.IsNetwork(err) {
			t.Fatalf("err = %v, want CreationError wrapping NetworkError", err)
		}
		if _, ok := h.svc.Current("t1"); ok {
			t.Errorf("current booking set on reject")
		}
		if h.queue.Len() != 0 {
			t.Errorf("queue length = %d, want 0", h.queue.Len())
		}
	})

	t.Run("queue", func(t *testing.T) {
		h := newHarness(t, PolicyQueue)
		h.backend.createFn = networkDown

		b := mustCreate(t, h, "t1")
		if !b.Provisional || b.Status != StatusPending || !strings.HasPrefix(string(b.ID), "local-") {
			t.Fatalf("unexpected provisional booking: %+v", b)
		}
		if b.AmountPaid+b.AmountPending != b.Fare {
			t.Errorf("payment invariant broken: %+v", b)
		}
		if h.queue.Len() != 1 {
			t.Errorf("queue length = %d, want 1", h.queue.Len())
		}
		if cur, ok := h.svc.Current("t1"); !ok || cur.ID != b.ID {
			t.Errorf("current = %+v, %v", cur, ok)
		}
	})

	t.Run("synthesize", func(t *testing.T) {
		h := newHarness(t, PolicySynthesize)
		h.backend.createFn = networkDown

		b := mustCreate(t, h, "t1")
		if !b.Provisional || b.Status != StatusConfirmed || b.Driver == nil {
			t.Fatalf("unexpected synthesized booking: %+v", b)
		}
		if d := location.DistanceKm(mgRoad.Point(), types.Point{Lat: b.Driver.Latitude, Lng: b.Driver.Longitude}); d > 2 {
			t.Errorf("placeholder driver %.2fkm from pickup", d)
		}
		if h.queue.Len() != 0 {
			t.Errorf("synthesize queued a submission")
		}
	})
}

func TestCreate_RemoteRejectionIsNotRecovered(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	h.backend.createFn = func(CreateRequest) (Booking, error) {
		return Booking{}, &domain.RemoteError{Op: "create booking", Status: 422, Msg: "vehicle unavailable"}
	}

	_, err := h.svc.Create(context.Background(), createCmd("t1"))
	var cerr *CreationError
	if !errors.As(err, &cerr) || !domain.IsRemote(err) {
		t.Fatalf("err = %v, want CreationError wrapping RemoteError", err)
	}
	if _, ok := h.svc.Current("t1"); ok {
		t.Errorf("current booking set after remote rejection")
	}
	if h.queue.Len() != 0 {
		t.Errorf("remote rejection was queued")
	}
}

func TestRecordPayment_KeepsInvariant(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	b := mustCreate(t, h, "t1")
	ctx := context.Background()

	got, err := h.svc.RecordPayment(ctx, PaymentCommand{TravelerID: "t1", BookingID: b.ID, Amount: 30})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if got.AmountPaid != 30 || got.AmountPending != 200 {
		t.Errorf("paid=%d pending=%d, want 30/200", got.AmountPaid, got.AmountPending)
	}

	for _, amount := range []int64{0, -1, 201} {
		_, err := h.svc.RecordPayment(ctx, PaymentCommand{TravelerID: "t1", BookingID: b.ID, Amount: amount})
		if !domain.IsValidation(err) {
			t.Errorf("amount %d: err = %v, want ValidationError", amount, err)
		}
	}

	got, err = h.svc.RecordPayment(ctx, PaymentCommand{TravelerID: "t1", BookingID: b.ID, Amount: 200})
	if err != nil {
		t.Fatalf("final payment: %v", err)
	}
	if got.AmountPaid != 230 || got.AmountPending != 0 || got.AmountPaid+got.AmountPending != got.Fare {
		t.Errorf("after full payment: %+v", got)
	}

	if _, err := h.svc.RecordPayment(ctx, PaymentCommand{TravelerID: "t1", BookingID: "nope", Amount: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown booking: err = %v, want ErrNotFound", err)
	}
}

func TestUpdatePickupInstructions_Idempotent(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	b := mustCreate(t, h, "t1")
	cmd := InstructionsCommand{TravelerID: "t1", BookingID: b.ID, Text: "Gate 2, near the pharmacy"}

	first, err := h.svc.UpdatePickupInstructions(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	snap1 := h.svc.Snapshot("t1")

	second, err := h.svc.UpdatePickupInstructions(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if !reflect.DeepEqual(first, second) || !reflect.DeepEqual(snap1, h.svc.Snapshot("t1")) {
		t.Errorf("state changed on repeated update")
	}
	if first.PickupInstructions != cmd.Text {
		t.Errorf("instructions = %q", first.PickupInstructions)
	}
	if h.backend.instrCalls != 1 {
		t.Errorf("backend called %d times, want 1", h.backend.instrCalls)
	}
}

func TestUpdatePickupInstructions_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown booking", func(t *testing.T) {
		h := newHarness(t, PolicyQueue)
		mustCreate(t, h, "t1")
		before := h.svc.Snapshot("t1")

		_, err := h.svc.UpdatePickupInstructions(ctx, InstructionsCommand{TravelerID: "t1", BookingID: "missing", Text: "x"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		if !reflect.DeepEqual(before, h.svc.Snapshot("t1")) {
			t.Errorf("state mutated")
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		h := newHarness(t, PolicyQueue)
		b := mustCreate(t, h, "t1")
		h.backend.instrErr = &domain.NetworkError{Op: "update instructions", Err: errors.New("timeout")}

		_, err := h.svc.UpdatePickupInstructions(ctx, InstructionsCommand{TravelerID: "t1", BookingID: b.ID, Text: "x"})
		if !domain.IsNetwork(err) {
			t.Fatalf("err = %v, want NetworkError", err)
		}
		if cur, _ := h.svc.Current("t1"); cur.PickupInstructions != "" {
			t.Errorf("instructions applied despite failure: %q", cur.PickupInstructions)
		}
	})

	t.Run("terminal booking", func(t *testing.T) {
		h := newHarness(t, PolicyQueue)
		h.backend.historyFn = func(int) ([]Booking, error) {
			return []Booking{{ID: "old", Status: StatusCompleted, Fare: 100}}, nil
		}
		if _, err := h.svc.FetchHistory(ctx, "t1"); err != nil {
			t.Fatalf("fetch history: %v", err)
		}
		_, err := h.svc.UpdatePickupInstructions(ctx, InstructionsCommand{TravelerID: "t1", BookingID: "old", Text: "x"})
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("history member outside confirmed set", func(t *testing.T) {
		h := newHarness(t, PolicyQueue)
		h.backend.historyFn = func(int) ([]Booking, error) {
			return []Booking{{ID: "hist", Status: StatusOngoing, Fare: 100}}, nil
		}
		if _, err := h.svc.FetchHistory(ctx, "t1"); err != nil {
			t.Fatalf("fetch history: %v", err)
		}
		_, err := h.svc.UpdatePickupInstructions(ctx, InstructionsCommand{TravelerID: "t1", BookingID: "hist", Text: "x"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if h.backend.instrCalls != 0 {
			t.Errorf("backend called %d times, want 0", h.backend.instrCalls)
		}
	})

	t.Run("too long", func(t *testing.T) {
		h := newHarness(t, PolicyQueue)
		b := mustCreate(t, h, "t1")
		_, err := h.svc.UpdatePickupInstructions(ctx, InstructionsCommand{TravelerID: "t1", BookingID: b.ID, Text: strings.Repeat("y", 501)})
		if !domain.IsValidation(err) {
			t.Errorf("err = %v, want ValidationError", err)
		}
	})
}

func TestUpdatePickupInstructions_ProvisionalIsLocal(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	h.backend.createFn = networkDown
	b := mustCreate(t, h, "t1")

	got, err := h.svc.UpdatePickupInstructions(context.Background(), InstructionsCommand{TravelerID: "t1", BookingID: b.ID, Text: "Blue gate"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.PickupInstructions != "Blue gate" || h.backend.instrCalls != 0 {
		t.Errorf("got %q with %d backend calls", got.PickupInstructions, h.backend.instrCalls)
	}
}

func TestUpdatePickupInstructions_ConfirmedSet(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	h.backend.confirmedFn = func(int) ([]Booking, error) {
		return []Booking{{ID: "c1", Status: StatusConfirmed, Fare: 150, AmountPending: 150}}, nil
	}
	if _, err := h.svc.FetchConfirmed(context.Background(), "t1"); err != nil {
		t.Fatalf("fetch confirmed: %v", err)
	}

	if _, err := h.svc.UpdatePickupInstructions(context.Background(), InstructionsCommand{TravelerID: "t1", BookingID: "c1", Text: "Lobby"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := h.svc.Snapshot("t1").Confirmed[0].PickupInstructions; got != "Lobby" {
		t.Errorf("confirmed copy instructions = %q", got)
	}
}

func TestRate_UnknownBookingMutatesNothing(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	mustCreate(t, h, "t1")
	before := h.svc.Snapshot("t1")

	_, err := h.svc.Rate(context.Background(), RateCommand{TravelerID: "t1", BookingID: "missing", Rating: 5})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !reflect.DeepEqual(before, h.svc.Snapshot("t1")) {
		t.Errorf("state mutated")
	}
	if h.backend.feedbackCalls != 0 {
		t.Errorf("backend called for unknown booking")
	}
}

func TestRate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	h.backend.historyFn = func(int) ([]Booking, error) {
		return []Booking{
			{ID: "done", Status: StatusCompleted, Fare: 120, AmountPaid: 120},
			{ID: "gone", Status: StatusCancelled, Fare: 90, AmountPending: 90},
		}, nil
	}
	h.backend.confirmedFn = func(int) ([]Booking, error) {
		return []Booking{{ID: "live", Status: StatusConfirmed, Fare: 100, AmountPending: 100}}, nil
	}
	if _, err := h.svc.FetchHistory(ctx, "t1"); err != nil {
		t.Fatalf("fetch history: %v", err)
	}
	if _, err := h.svc.FetchConfirmed(ctx, "t1"); err != nil {
		t.Fatalf("fetch confirmed: %v", err)
	}

	for _, rating := range []int{0, 6, -1} {
		if _, err := h.svc.Rate(ctx, RateCommand{TravelerID: "t1", BookingID: "done", Rating: rating}); !domain.IsValidation(err) {
			t.Errorf("rating %d: err = %v, want ValidationError", rating, err)
		}
	}
	if _, err := h.svc.Rate(ctx, RateCommand{TravelerID: "t1", BookingID: "done", Rating: 4, Feedback: strings.Repeat("f", 501)}); !domain.IsValidation(err) {
		t.Errorf("long feedback: err = %v, want ValidationError", err)
	}
	for _, id := range []types.ID{"live", "gone"} {
		if _, err := h.svc.Rate(ctx, RateCommand{TravelerID: "t1", BookingID: id, Rating: 4}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s: err = %v, want ErrInvalidState", id, err)
		}
	}

	got, err := h.svc.Rate(ctx, RateCommand{TravelerID: "t1", BookingID: "done", Rating: 4, Feedback: "Smooth ride"})
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if got.Rating == nil || *got.Rating != 4 || got.Feedback != "Smooth ride" {
		t.Errorf("rating not applied: %+v", got)
	}
	hist := h.svc.Snapshot("t1").History
	if hist[0].Rating == nil || *hist[0].Rating != 4 {
		t.Errorf("history copy not rated: %+v", hist[0])
	}
	if h.backend.feedbackCalls != 1 {
		t.Errorf("feedback calls = %d, want 1", h.backend.feedbackCalls)
	}
}

func TestRate_BackendFailureMutatesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	h.backend.historyFn = func(int) ([]Booking, error) {
		return []Booking{{ID: "done", Status: StatusCompleted, Fare: 120, AmountPaid: 120}}, nil
	}
	h.backend.feedbackErr = &domain.NetworkError{Op: "submit feedback", Err: errors.New("timeout")}
	if _, err := h.svc.FetchHistory(ctx, "t1"); err != nil {
		t.Fatalf("fetch history: %v", err)
	}
	before := h.svc.Snapshot("t1")

	if _, err := h.svc.Rate(ctx, RateCommand{TravelerID: "t1", BookingID: "done", Rating: 5}); !domain.IsNetwork(err) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if !reflect.DeepEqual(before, h.svc.Snapshot("t1")) {
		t.Errorf("state mutated")
	}
}

func TestFetchConfirmed_FailureEmptiesSet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	h.backend.confirmedFn = func(call int) ([]Booking, error) {
		if call == 1 {
			return []Booking{
				{ID: "a", Status: StatusConfirmed, Fare: 100, AmountPending: 100},
				{ID: "b", Status: StatusOngoing, Fare: 80, AmountPending: 80},
			}, nil
		}
		return nil, &domain.NetworkError{Op: "fetch confirmed bookings", Err: errors.New("timeout")}
	}

	list, err := h.svc.FetchConfirmed(ctx, "t1")
	if err != nil || len(list) != 2 {
		t.Fatalf("first fetch: %v, %d bookings", err, len(list))
	}

	list, err = h.svc.FetchConfirmed(ctx, "t1")
	if !domain.IsNetwork(err) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("list = %v, want empty", list)
	}
	if got := h.svc.Snapshot("t1").Confirmed; len(got) != 0 {
		t.Errorf("confirmed set = %v, want empty", got)
	}
}

func TestFetchHistory_FailureEmptiesSet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	h.backend.historyFn = func(call int) ([]Booking, error) {
		if call == 1 {
			return []Booking{{ID: "h1", Status: StatusCompleted, Fare: 100, AmountPaid: 100}}, nil
		}
		return nil, &domain.RemoteError{Op: "fetch booking history", Status: 401}
	}
	if _, err := h.svc.FetchHistory(ctx, "t1"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := h.svc.FetchHistory(ctx, "t1"); err == nil {
		t.Fatalf("expected error")
	}
	if got := h.svc.Snapshot("t1").History; len(got) != 0 {
		t.Errorf("history = %v, want empty", got)
	}
}

func TestFetchConfirmed_ReconcilesCurrentAndNormalizes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	b := mustCreate(t, h, "t1")
	h.backend.confirmedFn = func(int) ([]Booking, error) {
		return []Booking{
			{ID: b.ID, Status: StatusConfirmed, Fare: 230, AmountPending: 230},
			{ID: "odd", Status: "assigned", Fare: 200, AmountPaid: 50},
			{ID: "old", Status: StatusCompleted, Fare: 90, AmountPaid: 90},
		}, nil
	}

	list, err := h.svc.FetchConfirmed(ctx, "t1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok := h.svc.Current("t1"); ok {
		t.Errorf("current booking not reconciled")
	}
	if len(list) != 2 {
		t.Fatalf("confirmed = %d bookings, want 2 active", len(list))
	}
	odd := list[1]
	if odd.Status != StatusPending || odd.AmountPending != 150 || odd.TravelerID != "t1" {
		t.Errorf("normalized booking = %+v", odd)
	}
	if hist := h.svc.Snapshot("t1").History; len(hist) != 1 || hist[0].ID != "old" {
		t.Errorf("terminal booking not moved to history: %+v", hist)
	}
}

func TestFetchConfirmed_DiscardsStaleResponse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	started := make(chan struct{})
	release := make(chan struct{})
	h.backend.confirmedFn = func(call int) ([]Booking, error) {
		if call == 1 {
			close(started)
			<-release
			return []Booking{{ID: "stale", Status: StatusConfirmed, Fare: 10, AmountPending: 10}}, nil
		}
		return []Booking{{ID: "fresh", Status: StatusConfirmed, Fare: 20, AmountPending: 20}}, nil
	}

	errs := make(chan error, 1)
	go func() {
		_, err := h.svc.FetchConfirmed(ctx, "t1")
		errs <- err
	}()
	<-started

	list, err := h.svc.FetchConfirmed(ctx, "t1")
	if err != nil || len(list) != 1 || list[0].ID != "fresh" {
		t.Fatalf("second fetch = %v, %v", list, err)
	}
	close(release)

	if err := <-errs; !errors.Is(err, domain.ErrStaleResponse) {
		t.Errorf("first fetch err = %v, want ErrStaleResponse", err)
	}
	got := h.svc.Snapshot("t1").Confirmed
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Errorf("confirmed = %+v, want only fresh", got)
	}
}

func TestApplyDispatchEvent_Lifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	b := mustCreate(t, h, "t1")
	driver := &Driver{ID: "d7", Name: "Suresh", CarNumber: "KA01AB1234", Rating: 4.8}

	steps := []StatusEvent{
		{TravelerID: "t1", BookingID: b.ID, Status: StatusConfirmed, Driver: driver},
		{TravelerID: "t1", BookingID: b.ID, Status: StatusOngoing},
	}
	for _, ev := range steps {
		got, err := h.svc.ApplyDispatchEvent(ctx, ev)
		if err != nil {
			t.Fatalf("%s: %v", ev.Status, err)
		}
		if got.Status != ev.Status {
			t.Errorf("status = %s, want %s", got.Status, ev.Status)
		}
	}
	cur, _ := h.svc.Current("t1")
	if cur.Driver == nil || cur.Driver.ID != "d7" {
		t.Errorf("driver not assigned: %+v", cur.Driver)
	}

	// redelivery is a no-op
	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: b.ID, Status: StatusOngoing}); err != nil {
		t.Errorf("redelivery: %v", err)
	}
	// skipping back is rejected
	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: b.ID, Status: StatusPending}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("backwards: err = %v, want ErrInvalidState", err)
	}

	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: b.ID, Status: StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	snap := h.svc.Snapshot("t1")
	if snap.Current != nil {
		t.Errorf("completed booking still current")
	}
	if len(snap.History) != 1 || snap.History[0].Status != StatusCompleted {
		t.Errorf("history = %+v", snap.History)
	}
	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: b.ID, Status: StatusCancelled}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("after completion: err = %v, want ErrInvalidState", err)
	}

	// the completed booking can now be rated
	if _, err := h.svc.Rate(ctx, RateCommand{TravelerID: "t1", BookingID: b.ID, Rating: 5}); err != nil {
		t.Errorf("rate completed booking: %v", err)
	}
}

func TestApplyDispatchEvent_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	b := mustCreate(t, h, "t1")

	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: "missing", Status: StatusConfirmed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown booking: err = %v", err)
	}
	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: b.ID, Status: "teleported"}); !domain.IsValidation(err) {
		t.Errorf("unknown status: err = %v", err)
	}
	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: b.ID, Status: StatusCompleted}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("skip to completed: err = %v", err)
	}

	if _, err := h.svc.ApplyDispatchEvent(ctx, StatusEvent{TravelerID: "t1", BookingID: b.ID, Status: StatusCancelled}); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if _, ok := h.svc.Current("t1"); ok {
		t.Errorf("cancelled booking still current")
	}
	if _, err := h.svc.RecordPayment(ctx, PaymentCommand{TravelerID: "t1", BookingID: b.ID, Amount: 10}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("payment on cancelled: err = %v, want ErrInvalidState", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	mustCreate(t, h, "t1")

	if _, ok := h.svc.Current("t2"); ok {
		t.Errorf("traveler t2 sees t1's booking")
	}
	if _, err := h.svc.Rate(context.Background(), RateCommand{TravelerID: "t2", BookingID: "srv-1", Rating: 3}); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-traveler rate: err = %v", err)
	}
}

func TestCurrent_ReturnsCopy(t *testing.T) {
	h := newHarness(t, PolicyQueue)
	h.backend.createFn = func(CreateRequest) (Booking, error) {
		return Booking{ID: "srv-2", Status: StatusConfirmed, Driver: &Driver{ID: "d1"}}, nil
	}
	mustCreate(t, h, "t1")

	cur, _ := h.svc.Current("t1")
	cur.Driver.Name = "tampered"
	cur.Fare = 1

	again, _ := h.svc.Current("t1")
	if again.Driver.Name == "tampered" || again.Fare == 1 {
		t.Errorf("session state shared with caller")
	}
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Deps{Policy: "bogus"})
	if svc.Policy() != PolicyQueue {
		t.Errorf("policy = %s, want queue", svc.Policy())
	}
	if svc.queue == nil {
		t.Errorf("queue policy without a queue")
	}

	// no backend: queue policy still yields a provisional booking
	b, err := svc.Create(context.Background(), createCmd("t1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !b.Provisional || b.Fare <= 0 {
		t.Errorf("booking = %+v", b)
	}
}

func TestEvents_ReturnsTravelerTimeline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PolicyQueue)
	b := mustCreate(t, h, "t1")
	if _, err := h.svc.RecordPayment(ctx, PaymentCommand{TravelerID: "t1", BookingID: b.ID, Amount: 50}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	events, err := h.svc.Events(ctx, "t1", b.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	if !reflect.DeepEqual(kinds, []string{EventCreated, EventPayment}) {
		t.Errorf("kinds = %v", kinds)
	}

	if _, err := h.svc.Events(ctx, "t2", b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("other traveler err = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.Events(ctx, "t1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown booking err = %v, want ErrNotFound", err)
	}
}

func TestEvents_WithoutJournal(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Deps{Backend: &fakeBackend{}, Pricer: fakePricer{fare: 230}})
	b, err := svc.Create(ctx, createCmd("t1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	events, err := svc.Events(ctx, "t1", b.ID)
	if err != nil || events == nil || len(events) != 0 {
		t.Errorf("events = %v, %v; want empty list", events, err)
	}
	if _, err := svc.Events(ctx, "t1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
