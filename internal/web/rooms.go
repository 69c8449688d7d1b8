package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"churchcal/internal/auth"
	"churchcal/internal/cache"
	"churchcal/internal/calendar"
)

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in calendar.RoomInput
	if err := s.decode(r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	room, err := s.svc.CreateRoom(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if room.ParentID != nil {
		s.invalidate(r.Context(), *room.ParentID)
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.svc.Room(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "roomID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	var upd calendar.RoomUpdate
	if err := s.decode(r, &upd); err != nil {
		writeServiceError(w, err)
		return
	}
	roomID := chi.URLParam(r, "roomID")
	room, err := s.svc.UpdateRoom(r.Context(), auth.UserID(r.Context()), roomID, upd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate(r.Context(), roomID)
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if err := s.svc.DeleteRoom(r.Context(), auth.UserID(r.Context()), roomID); err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate(r.Context(), roomID)
	w.WriteHeader(http.StatusNoContent)
}

type joinRequest struct {
	InviteCode string `json:"invite_code" validate:"required,max=32"`
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var in joinRequest
	if err := s.decode(r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	room, err := s.svc.JoinRoom(r.Context(), auth.UserID(r.Context()), in.InviteCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type groupRequest struct {
	Group string `json:"group" validate:"max=60"`
}

func (s *Server) handleSetChildGroup(w http.ResponseWriter, r *http.Request) {
	var in groupRequest
	if err := s.decode(r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	parentID := chi.URLParam(r, "roomID")
	child, err := s.svc.SetChildGroup(r.Context(), auth.UserID(r.Context()), parentID, chi.URLParam(r, "childID"), in.Group)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, child)
}

// handleRoomEvents returns the administrative view of a room.
//
// GET /api/rooms/{roomID}/events?from&to&monitor=true
func (s *Server) handleRoomEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomID")
	viewer := auth.UserID(ctx)

	from, to, err := window(r, s.svc.Location())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	monitor := boolQuery(r, "monitor")

	// Membership is checked before the cache so that cached bodies are
	// never served to outsiders.
	ok, err := s.svc.IsMember(ctx, viewer, roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeServiceError(w, calendar.ErrForbidden)
		return
	}

	key := cache.ViewKey(roomID, "admin", strconv.FormatBool(monitor), stamp(from), stamp(to))
	s.cached(w, r, key, jsonContentType, func() ([]byte, error) {
		v, err := s.svc.RoomView(ctx, roomID, calendar.ViewOptions{Viewer: viewer, Monitor: monitor, From: from, To: to})
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

func (s *Server) handleMonitorChild(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r, s.svc.Location())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	v, err := s.svc.MonitorChild(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "roomID"), chi.URLParam(r, "childID"), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := parseTime(raw, s.svc.Location())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		at = t
	}
	st, err := s.svc.Stats(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "roomID"), at)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.svc.Categories(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "roomID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in calendar.CategoryInput
	if err := s.decode(r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	cat, err := s.svc.CreateCategory(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "roomID"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if err := s.svc.DeleteCategory(r.Context(), auth.UserID(r.Context()), roomID, chi.URLParam(r, "categoryID")); err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate(r.Context(), roomID)
	w.WriteHeader(http.StatusNoContent)
}
