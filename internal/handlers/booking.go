// Package handlers exposes the booking engine over HTTP. All instants cross
// this boundary as RFC3339 UTC strings; the civil zone the schedule is
// computed in never leaks to callers.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hellobump/booking-service/internal/booking"
	"github.com/hellobump/booking-service/internal/calendar"
	"github.com/hellobump/booking-service/internal/model"
	"github.com/hellobump/booking-service/libs/auth"
)

type BookingHandler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func NewBookingHandler(svc *booking.Service, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

type midwifeResponse struct {
	MidwifeID       string                    `json:"midwife_id"`
	Name            string                    `json:"name"`
	Bio             string                    `json:"bio,omitempty"`
	Specialties     []string                  `json:"specialties,omitempty"`
	PhotoURL        string                    `json:"photo_url,omitempty"`
	DurationMinutes int                       `json:"duration_minutes"`
	Availability    []model.AvailabilityBlock `json:"availability"`
}

type availabilityResponse struct {
	Slots []string `json:"slots"`
}

type createBookingRequest struct {
	MidwifeID string `json:"midwife_id"`
	StartTime string `json:"start_time"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	Notes     string `json:"notes"`
}

type cancelBookingRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type appointmentResponse struct {
	AppointmentID string           `json:"appointment_id"`
	MidwifeID     string           `json:"midwife_id"`
	UserID        string           `json:"user_id,omitempty"`
	UserName      string           `json:"user_name,omitempty"`
	UserEmail     string           `json:"user_email,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	StartTime     string           `json:"start_time"`
	EndTime       string           `json:"end_time"`
	Status        string           `json:"status"`
	CreatedAt     string           `json:"created_at"`
	Midwife       *midwifeResponse `json:"midwife,omitempty"`
}

// Midwives handles GET /api/v1/midwives.
func (h *BookingHandler) Midwives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	midwives, err := h.svc.ListMidwives(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]midwifeResponse, 0, len(midwives))
	for i := range midwives {
		items = append(items, toMidwifeResponse(&midwives[i]))
	}
	writeJSON(w, http.StatusOK, items)
}

// Availability handles GET /api/v1/availability?midwife_id&from&to.
func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	midwifeID := strings.TrimSpace(r.URL.Query().Get("midwife_id"))
	fromRaw := strings.TrimSpace(r.URL.Query().Get("from"))
	toRaw := strings.TrimSpace(r.URL.Query().Get("to"))
	if midwifeID == "" || fromRaw == "" || toRaw == "" {
		http.Error(w, "midwife_id, from, and to are required", http.StatusBadRequest)
		return
	}

	from, err := time.Parse(time.RFC3339, fromRaw)
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toRaw)
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	slots, err := h.svc.ListAvailability(r.Context(), midwifeID, from, to, time.Now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := availabilityResponse{Slots: make([]string, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, s.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /api/v1/appointments.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.MidwifeID = strings.TrimSpace(req.MidwifeID)
	if req.MidwifeID == "" || strings.TrimSpace(req.StartTime) == "" {
		http.Error(w, "midwife_id and start_time are required", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	input := booking.BookRequest{
		MidwifeID: req.MidwifeID,
		UserID:    strings.TrimSpace(req.UserID),
		UserName:  strings.TrimSpace(req.UserName),
		UserEmail: strings.TrimSpace(req.UserEmail),
		Notes:     strings.TrimSpace(req.Notes),
		Start:     start,
	}
	// A verified token overrides whatever identity the body claims.
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		input.UserID = claims.Sub
		if claims.Name != "" {
			input.UserName = claims.Name
		}
		if claims.Email != "" {
			input.UserEmail = claims.Email
		}
	}

	appt, err := h.svc.Book(r.Context(), input, time.Now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

// Cancel handles POST /api/v1/appointments/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Cancel(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Mine handles GET /api/v1/appointments and requires a verified token.
func (h *BookingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.Sub == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	appts, err := h.svc.ListForUser(r.Context(), claims.Sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for i := range appts {
		items = append(items, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrMidwifeNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrPastSlot),
		errors.Is(err, calendar.ErrInvalidClockTime):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func toMidwifeResponse(m *model.Midwife) midwifeResponse {
	return midwifeResponse{
		MidwifeID:       m.ID,
		Name:            m.Name,
		Bio:             m.Bio,
		Specialties:     m.Specialties,
		PhotoURL:        m.PhotoURL,
		DurationMinutes: m.DurationMinutes,
		Availability:    m.Availability,
	}
}

func toAppointmentResponse(a *model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: a.ID,
		MidwifeID:     a.MidwifeID,
		UserID:        a.UserID,
		UserName:      a.UserName,
		UserEmail:     a.UserEmail,
		Notes:         a.Notes,
		StartTime:     a.StartAt.UTC().Format(time.RFC3339),
		EndTime:       a.EndAt.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.Midwife != nil {
		mw := toMidwifeResponse(a.Midwife)
		resp.Midwife = &mw
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
