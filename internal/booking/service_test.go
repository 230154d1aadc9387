package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hellobump/booking-service/internal/calendar"
	"github.com/hellobump/booking-service/internal/model"
	"github.com/hellobump/booking-service/internal/outbox"
	"github.com/hellobump/booking-service/internal/storage"
)

// 2026-01-26 is a Monday; London is on GMT then, so instants read naturally.
var (
	monday    = time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC)
	nineAM    = monday.Add(9 * time.Hour)
	testNow   = monday.Add(8 * time.Hour)
	weekStart = monday
	weekEnd   = monday.Add(12 * time.Hour)
)

type fakeMidwifeStore struct {
	midwives map[string]model.Midwife
}

func (f *fakeMidwifeStore) GetByID(_ context.Context, id string) (model.Midwife, error) {
	m, ok := f.midwives[id]
	if !ok {
		return model.Midwife{}, storage.ErrNotFound
	}
	return m, nil
}

func (f *fakeMidwifeStore) List(_ context.Context) ([]model.Midwife, error) {
	var out []model.Midwife
	for _, m := range f.midwives {
		out = append(out, m)
	}
	return out, nil
}

// fakeAppointmentStore mimics the Postgres repository including the
// uniqueness constraint on (midwife_id, start_at).
type fakeAppointmentStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	events []outbox.Event
}

func newFakeAppointmentStore() *fakeAppointmentStore {
	return &fakeAppointmentStore{appts: map[string]model.Appointment{}}
}

func (f *fakeAppointmentStore) FindActiveOverlapping(_ context.Context, midwifeID string, rangeStart, rangeEnd time.Time) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Appointment
	for _, a := range f.appts {
		if a.MidwifeID != midwifeID || a.Status != model.AppointmentStatusBooked {
			continue
		}
		if a.StartAt.Before(rangeEnd) && rangeStart.Before(a.EndAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointmentStore) CreateBooked(_ context.Context, appt *model.Appointment, evt outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.appts {
		if existing.MidwifeID == appt.MidwifeID && existing.Status == model.AppointmentStatusBooked &&
			existing.StartAt.Equal(appt.StartAt) {
			return storage.ErrDuplicate
		}
	}
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	f.appts[appt.ID] = *appt
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeAppointmentStore) MarkCancelled(_ context.Context, id string, evt outbox.Event) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	a.Status = model.AppointmentStatusCancelled
	f.appts[id] = a
	f.events = append(f.events, evt)
	return a, nil
}

func (f *fakeAppointmentStore) GetByID(_ context.Context, id string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeAppointmentStore) ListByUser(_ context.Context, userID string) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Appointment
	for _, a := range f.appts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, appts AppointmentStore) *Service {
	t.Helper()
	clock, err := calendar.NewClock(calendar.DefaultZone)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	midwives := &fakeMidwifeStore{midwives: map[string]model.Midwife{
		"mw-1": {
			ID:              "mw-1",
			Name:            "Grace Obi",
			DurationMinutes: 30,
			Availability: []model.AvailabilityBlock{
				{Weekday: 1, StartTime: "09:00", EndTime: "15:00"},
			},
		},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(midwives, appts, clock, logger)
}

func TestListAvailability_FullMonday(t *testing.T) {
	svc := newTestService(t, newFakeAppointmentStore())

	slots, err := svc.ListAvailability(context.Background(), "mw-1", weekStart, weekEnd, testNow)
	if err != nil {
		t.Fatalf("list availability: %v", err)
	}
	if len(slots) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(slots))
	}
	if !slots[0].Equal(nineAM) || !slots[11].Equal(monday.Add(14*time.Hour+30*time.Minute)) {
		t.Fatalf("unexpected slot edges: %s .. %s",
			slots[0].Format(time.RFC3339), slots[11].Format(time.RFC3339))
	}
}

func TestListAvailability_UnknownMidwife(t *testing.T) {
	svc := newTestService(t, newFakeAppointmentStore())
	_, err := svc.ListAvailability(context.Background(), "mw-404", weekStart, weekEnd, testNow)
	if !errors.Is(err, ErrMidwifeNotFound) {
		t.Fatalf("expected ErrMidwifeNotFound, got %v", err)
	}
}

func TestListAvailability_ReversedRange(t *testing.T) {
	svc := newTestService(t, newFakeAppointmentStore())
	_, err := svc.ListAvailability(context.Background(), "mw-1", weekEnd, weekStart, testNow)
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestBook_SecondRequestForSameSlotFails(t *testing.T) {
	store := newFakeAppointmentStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.Book(ctx, BookRequest{MidwifeID: "mw-1", UserID: "u-1", Start: nineAM}, testNow)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if !first.StartAt.Equal(nineAM) || !first.EndAt.Equal(nineAM.Add(30*time.Minute)) {
		t.Fatalf("unexpected interval: %s .. %s",
			first.StartAt.Format(time.RFC3339), first.EndAt.Format(time.RFC3339))
	}
	if first.Midwife == nil || first.Midwife.ID != "mw-1" {
		t.Fatal("expected midwife details attached to the booking")
	}

	_, err = svc.Book(ctx, BookRequest{MidwifeID: "mw-1", UserID: "u-2", Start: nineAM}, testNow)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable for double booking, got %v", err)
	}

	if _, err := svc.Book(ctx, BookRequest{MidwifeID: "mw-1", UserID: "u-2", Start: nineAM.Add(30 * time.Minute)}, testNow); err != nil {
		t.Fatalf("adjacent slot should still book: %v", err)
	}
}

func TestBook_TruncatesToWholeMinutes(t *testing.T) {
	store := newFakeAppointmentStore()
	svc := newTestService(t, store)

	ragged := nineAM.Add(42*time.Second + 250*time.Millisecond)
	appt, err := svc.Book(context.Background(), BookRequest{MidwifeID: "mw-1", Start: ragged}, testNow)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !appt.StartAt.Equal(nineAM) {
		t.Fatalf("expected start truncated to %s, got %s",
			nineAM.Format(time.RFC3339), appt.StartAt.Format(time.RFC3339))
	}
}

func TestBook_PastSlot(t *testing.T) {
	svc := newTestService(t, newFakeAppointmentStore())

	now := nineAM.Add(time.Hour)
	_, err := svc.Book(context.Background(), BookRequest{MidwifeID: "mw-1", Start: nineAM}, now)
	if !errors.Is(err, ErrPastSlot) {
		t.Fatalf("expected ErrPastSlot, got %v", err)
	}
}

func TestBook_OffGridOrOutsideTemplate(t *testing.T) {
	svc := newTestService(t, newFakeAppointmentStore())
	ctx := context.Background()

	// 09:15 falls inside the Monday block but off the 30-minute grid.
	if _, err := svc.Book(ctx, BookRequest{MidwifeID: "mw-1", Start: nineAM.Add(15 * time.Minute)}, testNow); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("off-grid instant: expected ErrSlotUnavailable, got %v", err)
	}
	// 16:00 is outside the template entirely.
	if _, err := svc.Book(ctx, BookRequest{MidwifeID: "mw-1", Start: monday.Add(16 * time.Hour)}, testNow); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("outside template: expected ErrSlotUnavailable, got %v", err)
	}
}

func TestBook_UnknownMidwife(t *testing.T) {
	svc := newTestService(t, newFakeAppointmentStore())
	_, err := svc.Book(context.Background(), BookRequest{MidwifeID: "mw-404", Start: nineAM}, testNow)
	if !errors.Is(err, ErrMidwifeNotFound) {
		t.Fatalf("expected ErrMidwifeNotFound, got %v", err)
	}
}

// staleReadStore simulates the race window where a competing booking is not
// yet visible to the re-validation read and only the storage uniqueness
// constraint catches the collision.
type staleReadStore struct {
	*fakeAppointmentStore
}

func (s *staleReadStore) FindActiveOverlapping(context.Context, string, time.Time, time.Time) ([]model.Appointment, error) {
	return nil, nil
}

func TestBook_RaceLostAtInsertMapsToSlotUnavailable(t *testing.T) {
	inner := newFakeAppointmentStore()
	inner.appts["existing"] = model.Appointment{
		ID:        "existing",
		MidwifeID: "mw-1",
		StartAt:   nineAM,
		EndAt:     nineAM.Add(30 * time.Minute),
		Status:    model.AppointmentStatusBooked,
	}
	svc := newTestService(t, &staleReadStore{inner})

	_, err := svc.Book(context.Background(), BookRequest{MidwifeID: "mw-1", Start: nineAM}, testNow)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected constraint violation remapped to ErrSlotUnavailable, got %v", err)
	}
}

func TestBook_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	store := newFakeAppointmentStore()
	svc := newTestService(t, store)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(user string) {
			_, err := svc.Book(context.Background(), BookRequest{MidwifeID: "mw-1", UserID: user, Start: nineAM}, testNow)
			results <- err
		}("u-" + string(rune('1'+i)))
	}

	var successes, unavailable int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			successes++
		case errors.Is(err, ErrSlotUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if successes != 1 || unavailable != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d unavailable", successes, unavailable)
	}
}

func TestCancel_FreesTheSlot(t *testing.T) {
	store := newFakeAppointmentStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, BookRequest{MidwifeID: "mw-1", UserID: "u-1", Start: nineAM}, testNow)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	before, err := svc.ListAvailability(ctx, "mw-1", weekStart, weekEnd, testNow)
	if err != nil {
		t.Fatalf("list availability: %v", err)
	}
	if containsInstant(before, nineAM) {
		t.Fatal("booked slot should be missing from availability")
	}

	cancelled, err := svc.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.AppointmentStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	after, err := svc.ListAvailability(ctx, "mw-1", weekStart, weekEnd, testNow)
	if err != nil {
		t.Fatalf("list availability: %v", err)
	}
	if !containsInstant(after, nineAM) {
		t.Fatal("cancelled slot should be bookable again")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	store := newFakeAppointmentStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	appt, err := svc.Book(ctx, BookRequest{MidwifeID: "mw-1", Start: nineAM}, testNow)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	eventsAfterFirst := len(store.events)

	again, err := svc.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("second cancel should be idempotent, got %v", err)
	}
	if again.Status != model.AppointmentStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", again.Status)
	}
	if len(store.events) != eventsAfterFirst {
		t.Fatal("second cancel must not emit another event")
	}
}

func TestCancel_NotFound(t *testing.T) {
	svc := newTestService(t, newFakeAppointmentStore())
	_, err := svc.Cancel(context.Background(), "missing")
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestBookedIntervalsNeverOverlap(t *testing.T) {
	store := newFakeAppointmentStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	starts := []time.Time{
		nineAM,
		nineAM,
		nineAM.Add(15 * time.Minute),
		nineAM.Add(30 * time.Minute),
		nineAM.Add(30 * time.Minute),
	}
	for _, s := range starts {
		_, _ = svc.Book(ctx, BookRequest{MidwifeID: "mw-1", Start: s}, testNow)
	}

	var booked []model.Appointment
	for _, a := range store.appts {
		if a.Status == model.AppointmentStatusBooked {
			booked = append(booked, a)
		}
	}
	for i := range booked {
		for j := i + 1; j < len(booked); j++ {
			a, b := booked[i], booked[j]
			if a.StartAt.Before(b.EndAt) && b.StartAt.Before(a.EndAt) {
				t.Fatalf("overlapping booked appointments: %s and %s",
					a.StartAt.Format(time.RFC3339), b.StartAt.Format(time.RFC3339))
			}
		}
	}
}
