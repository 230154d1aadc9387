package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hellobump/booking-service/internal/model"
	"github.com/hellobump/booking-service/internal/outbox"
	"github.com/hellobump/booking-service/libs/db"
)

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `a.id::text, a.midwife_id::text, COALESCE(a.user_id, ''),
	COALESCE(a.user_name, ''), COALESCE(a.user_email, ''), COALESCE(a.notes, ''),
	a.start_at, a.end_at, a.status, a.created_at, a.updated_at`

// CreateBooked inserts a booked appointment and its outbox event in one
// transaction. The appointments table carries a uniqueness constraint on
// (midwife_id, start_at); a violation surfaces as ErrDuplicate.
func (r *AppointmentRepository) CreateBooked(ctx context.Context, appt *model.Appointment, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, midwife_id, user_id, user_name, user_email, notes, start_at, end_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, appt.ID, appt.MidwifeID, appt.UserID, appt.UserName, appt.UserEmail, appt.Notes,
		appt.StartAt, appt.EndAt, appt.Status).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkCancelled flips an appointment to cancelled and records the
// cancellation event atomically. The caller is expected to have checked the
// current status; a missing row surfaces as ErrNotFound.
func (r *AppointmentRepository) MarkCancelled(ctx context.Context, id string, evt outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments a
		SET status = 'cancelled',
			updated_at = now()
		WHERE a.id = $1
		RETURNING `+appointmentColumns+`
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// FindActiveOverlapping returns booked appointments of one midwife whose
// [start_at, end_at) interval intersects [rangeStart, rangeEnd). Cancelled
// appointments never block.
func (r *AppointmentRepository) FindActiveOverlapping(ctx context.Context, midwifeID string, rangeStart, rangeEnd time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.midwife_id = $1
			AND a.status = 'booked'
			AND a.start_at < $3
			AND a.end_at > $2
		ORDER BY a.start_at ASC
	`, midwifeID, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`, `+joinedMidwifeColumns+`
		FROM appointments a
		JOIN midwives m ON m.id = a.midwife_id
		WHERE a.id = $1
	`, id)
	return scanAppointmentWithMidwife(row)
}

func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`, `+joinedMidwifeColumns+`
		FROM appointments a
		JOIN midwives m ON m.id = a.midwife_id
		WHERE a.user_id = $1
		ORDER BY a.start_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointmentWithMidwife(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

const joinedMidwifeColumns = `m.id::text, m.name, COALESCE(m.bio, ''), COALESCE(m.specialties, '{}'),
	COALESCE(m.photo_url, ''), m.availability, m.duration_minutes, m.created_at, m.updated_at`

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.MidwifeID,
		&appt.UserID,
		&appt.UserName,
		&appt.UserEmail,
		&appt.Notes,
		&appt.StartAt,
		&appt.EndAt,
		&appt.Status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, mapPgError(err)
	}
	return appt, nil
}

func scanAppointmentWithMidwife(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var m model.Midwife
	var availabilityJSON []byte
	err := row.Scan(
		&appt.ID,
		&appt.MidwifeID,
		&appt.UserID,
		&appt.UserName,
		&appt.UserEmail,
		&appt.Notes,
		&appt.StartAt,
		&appt.EndAt,
		&appt.Status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
		&m.ID,
		&m.Name,
		&m.Bio,
		&m.Specialties,
		&m.PhotoURL,
		&availabilityJSON,
		&m.DurationMinutes,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, mapPgError(err)
	}
	if len(availabilityJSON) > 0 {
		if err := json.Unmarshal(availabilityJSON, &m.Availability); err != nil {
			return model.Appointment{}, fmt.Errorf("decode availability template: %w", err)
		}
	}
	appt.Midwife = &m
	return appt, nil
}
