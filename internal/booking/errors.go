package booking

import "errors"

var (
	ErrMidwifeNotFound     = errors.New("midwife not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidRange        = errors.New("invalid availability range")
	ErrPastSlot            = errors.New("cannot book a past time")
	ErrSlotUnavailable     = errors.New("slot is no longer available")
)
