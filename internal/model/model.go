package model

import "time"

type AppointmentStatus string

const (
	AppointmentStatusBooked    AppointmentStatus = "booked"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// AvailabilityBlock is one recurring window in a midwife's weekly template,
// interpreted as wall-clock time in the service's civil zone. Weekday uses
// 0=Sunday..6=Saturday. Blocks are not required to be sorted or disjoint.
type AvailabilityBlock struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"` // "HH:MM"
	EndTime   string `json:"end_time"`   // "HH:MM"
}

type Midwife struct {
	ID              string
	Name            string
	Bio             string
	Specialties     []string
	PhotoURL        string
	Availability    []AvailabilityBlock
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Appointment struct {
	ID        string
	MidwifeID string
	UserID    string
	UserName  string
	UserEmail string
	Notes     string
	StartAt   time.Time
	EndAt     time.Time
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	// Midwife is attached on reads that join the owning midwife; nil otherwise.
	Midwife *Midwife
}
