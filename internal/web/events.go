package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"churchcal/internal/auth"
	"churchcal/internal/calendar"
)

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in calendar.EventInput
	if err := s.decode(r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	roomID := chi.URLParam(r, "roomID")
	ev, err := s.svc.CreateEvent(r.Context(), auth.UserID(r.Context()), roomID, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate(r.Context(), roomID)
	writeJSON(w, http.StatusCreated, ev)
}

// editRequest reads {eventID}, mode and originalDate.
func (s *Server) editRequest(r *http.Request) (calendar.EditRequest, error) {
	req := calendar.EditRequest{EventID: chi.URLParam(r, "eventID")}
	mode, err := calendar.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		return req, err
	}
	req.Mode = mode
	req.OriginalDate, err = parseTime(r.URL.Query().Get("originalDate"), s.svc.Location())
	return req, err
}

// handleUpdateEvent edits an event.
//
// PATCH /api/events/{eventID}?mode=all|single|future&originalDate=RFC3339
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.editRequest(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var in calendar.EventInput
	if err := s.decode(r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	ev, err := s.svc.UpdateEvent(ctx, auth.UserID(ctx), req, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate(ctx, ev.RoomID)
	writeJSON(w, http.StatusOK, ev)
}

// handleDeleteEvent removes an event or part of its series.
//
// DELETE /api/events/{eventID}?mode=all|single|future&originalDate=RFC3339
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.editRequest(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	roomID, err := s.svc.EventRoomID(ctx, req.EventID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.svc.DeleteEvent(ctx, auth.UserID(ctx), req); err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate(ctx, roomID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in calendar.BroadcastInput
	if err := s.decode(r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	in.RoomID = chi.URLParam(r, "roomID")
	ev, err := s.svc.Broadcast(ctx, auth.UserID(ctx), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate(ctx, in.RoomID)
	writeJSON(w, http.StatusCreated, ev)
}
