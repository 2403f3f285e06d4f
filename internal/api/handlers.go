package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/appointment"
)

const maxBodyBytes = 1 << 20

func listSlotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SlotsResponse{Success: true, Slots: svc.Catalog().Slots()})
	}
}

func availableSlotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		rawDate := q.Get("date")
		if rawDate == "" {
			writeError(w, http.StatusBadRequest, "invalid_query", "date is required")
			return
		}
		date, err := appointment.ParseDate(rawDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		avail, err := svc.AvailableSlots(r.Context(), appointment.AvailabilityQuery{
			Date:   date,
			Doctor: q.Get("doctor"),
			Scope:  appointment.AvailabilityScope(q.Get("scope")),
		})
		if err != nil {
			handleQueryError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			Success:        true,
			Date:           avail.Date.Format(appointment.DateLayout),
			Doctor:         avail.Doctor,
			Scope:          string(avail.Scope),
			AvailableSlots: avail.Available,
			BookedSlots:    avail.Booked,
			TotalSlots:     avail.Total,
		})
	}
}

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.BookingRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), req)
		if err != nil {
			handleCreateError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, DataResponse{Success: true, Data: toAppointmentResponse(appt)})
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.ListFilter

		if raw := q.Get("date"); raw != "" {
			date, err := appointment.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
				return
			}
			f.Date = &date
		}
		f.Doctor = q.Get("doctor")
		f.Status = appointment.AppointmentStatus(q.Get("status"))

		var err error
		if f.Limit, err = intParam(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be an integer")
			return
		}
		if f.Offset, err = intParam(q.Get("offset")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "offset must be an integer")
			return
		}

		list, err := svc.ListAppointments(r.Context(), f)
		if err != nil {
			handleQueryError(w, r, err)
			return
		}

		data := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			data = append(data, toAppointmentResponse(&list[i]))
		}

		// Echo the limit the service applied.
		writeJSON(w, http.StatusOK, ListResponse{Success: true, Data: data, Limit: clampLimit(f.Limit), Offset: max(f.Offset, 0)})
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.GetAppointment(r.Context(), chi.URLParam(r, "idOrReference"))
		if err != nil {
			handleLookupError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: toAppointmentResponse(appt)})
	}
}

func updateStatusHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, appointment.AppointmentStatus(req.Status))
		if err != nil {
			handleStatusError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: toAppointmentResponse(appt)})
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleLookupError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "appointment deleted"})
	}
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	}
	return limit
}

func handleCreateError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *appointment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr)
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_conflict", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "this time slot is already booked for the selected doctor")
	default:
		writeInternalError(w, r, err)
	}
}

func handleStatusError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeInternalError(w, r, err)
	}
}

func handleLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	default:
		writeInternalError(w, r, err)
	}
}

func handleQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	default:
		writeInternalError(w, r, err)
	}
}

// writeInternalError logs the cause and returns a generic message.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
