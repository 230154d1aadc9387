// Package booking orchestrates the read path (availability listing) and the
// two mutations this service performs: booking a slot and cancelling an
// appointment.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hellobump/booking-service/internal/availability"
	"github.com/hellobump/booking-service/internal/calendar"
	"github.com/hellobump/booking-service/internal/model"
	"github.com/hellobump/booking-service/internal/outbox"
	"github.com/hellobump/booking-service/internal/storage"
)

const defaultDurationMinutes = 30

type MidwifeStore interface {
	GetByID(ctx context.Context, id string) (model.Midwife, error)
	List(ctx context.Context) ([]model.Midwife, error)
}

type AppointmentStore interface {
	FindActiveOverlapping(ctx context.Context, midwifeID string, rangeStart, rangeEnd time.Time) ([]model.Appointment, error)
	CreateBooked(ctx context.Context, appt *model.Appointment, evt outbox.Event) error
	MarkCancelled(ctx context.Context, id string, evt outbox.Event) (model.Appointment, error)
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ListByUser(ctx context.Context, userID string) ([]model.Appointment, error)
}

type Service struct {
	midwives     MidwifeStore
	appointments AppointmentStore
	clock        *calendar.Clock
	logger       *slog.Logger
}

func NewService(midwives MidwifeStore, appointments AppointmentStore, clock *calendar.Clock, logger *slog.Logger) *Service {
	return &Service{
		midwives:     midwives,
		appointments: appointments,
		clock:        clock,
		logger:       logger,
	}
}

// ListAvailability returns the midwife's open slots inside [from, to],
// as absolute instants sorted ascending. The appointment query is scoped to
// the civil-day bounds of the range so a booking near midnight on either
// edge is still seen.
func (s *Service) ListAvailability(ctx context.Context, midwifeID string, from, to, now time.Time) ([]time.Time, error) {
	midwife, err := s.getMidwife(ctx, midwifeID)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, ErrInvalidRange
	}

	rangeStart, _ := s.clock.DayBounds(from)
	_, rangeEnd := s.clock.DayBounds(to)
	active, err := s.appointments.FindActiveOverlapping(ctx, midwifeID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load active appointments: %w", err)
	}

	duration := durationMinutes(midwife)
	candidates, err := availability.Expand(s.clock, midwife.Availability, duration, from, to, now)
	if err != nil {
		return nil, err
	}
	return availability.FilterConflicts(candidates, active, duration), nil
}

type BookRequest struct {
	MidwifeID string
	UserID    string
	UserName  string
	UserEmail string
	Notes     string
	Start     time.Time
}

// Book commits one slot for one midwife. The requested instant is validated
// against a freshly expanded and freshly conflict-checked slot set; the
// (midwife_id, start_at) uniqueness constraint in storage is the final
// arbiter when two requests interleave between that check and the insert.
func (s *Service) Book(ctx context.Context, req BookRequest, now time.Time) (*model.Appointment, error) {
	midwife, err := s.getMidwife(ctx, req.MidwifeID)
	if err != nil {
		return nil, err
	}

	// Client clocks are not trusted to sub-minute accuracy.
	start := req.Start.Truncate(time.Minute)
	if start.Before(now) {
		return nil, ErrPastSlot
	}

	duration := durationMinutes(midwife)
	end := start.Add(time.Duration(duration) * time.Minute)

	// Fresh read, never a cached slot list: time has passed since the
	// caller listed availability.
	active, err := s.appointments.FindActiveOverlapping(ctx, req.MidwifeID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load active appointments: %w", err)
	}

	candidates, err := availability.Expand(s.clock, midwife.Availability, duration, start, start, now)
	if err != nil {
		return nil, err
	}
	if !containsInstant(availability.FilterConflicts(candidates, active, duration), start) {
		return nil, ErrSlotUnavailable
	}

	appt := &model.Appointment{
		ID:        uuid.NewString(),
		MidwifeID: req.MidwifeID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
		Notes:     req.Notes,
		StartAt:   start,
		EndAt:     end,
		Status:    model.AppointmentStatusBooked,
	}

	evt, err := appointmentEvent(outbox.EventAppointmentBooked, appt)
	if err != nil {
		return nil, err
	}
	if err := s.appointments.CreateBooked(ctx, appt, evt); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost the race after passing re-validation; to the caller this
			// is indistinguishable from the slot being taken up front.
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"midwife_id", appt.MidwifeID,
		"start_at", appt.StartAt.UTC().Format(time.RFC3339),
	)
	appt.Midwife = &midwife
	return appt, nil
}

// Cancel transitions an appointment to cancelled. Cancelling an already
// cancelled appointment returns the current record unchanged.
func (s *Service) Cancel(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == model.AppointmentStatusCancelled {
		return &appt, nil
	}

	pending := appt
	pending.Status = model.AppointmentStatusCancelled
	evt, err := appointmentEvent(outbox.EventAppointmentCancelled, &pending)
	if err != nil {
		return nil, err
	}

	updated, err := s.appointments.MarkCancelled(ctx, appointmentID, evt)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logger.Info("appointment cancelled",
		"appointment_id", updated.ID,
		"midwife_id", updated.MidwifeID,
	)
	updated.Midwife = appt.Midwife
	return &updated, nil
}

// ListForUser returns a user's appointments sorted by start, each with its
// midwife attached.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	return s.appointments.ListByUser(ctx, userID)
}

func (s *Service) ListMidwives(ctx context.Context) ([]model.Midwife, error) {
	return s.midwives.List(ctx)
}

func (s *Service) getMidwife(ctx context.Context, id string) (model.Midwife, error) {
	midwife, err := s.midwives.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Midwife{}, ErrMidwifeNotFound
		}
		return model.Midwife{}, fmt.Errorf("load midwife: %w", err)
	}
	return midwife, nil
}

func durationMinutes(m model.Midwife) int {
	if m.DurationMinutes <= 0 {
		return defaultDurationMinutes
	}
	return m.DurationMinutes
}

func containsInstant(slots []time.Time, t time.Time) bool {
	for _, s := range slots {
		if s.Equal(t) {
			return true
		}
	}
	return false
}

func appointmentEvent(eventType string, appt *model.Appointment) (outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"midwife_id":     appt.MidwifeID,
		"user_id":        appt.UserID,
		"user_email":     appt.UserEmail,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
		"end_at":         appt.EndAt.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	if err != nil {
		return outbox.Event{}, fmt.Errorf("build %s payload: %w", eventType, err)
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
