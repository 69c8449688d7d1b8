package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"churchcal/internal/auth"
	"churchcal/internal/cache"
	"churchcal/internal/capture"
	"churchcal/internal/ics"
	appLog "churchcal/internal/log"
)

// handlePublicEvents returns the anonymous calendar of a room.
//
// GET /api/public/{slug}/events?from=2024-01-01&to=2024-01-31
func (s *Server) handlePublicEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	from, to, err := window(r, s.svc.Location())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	room, err := s.svc.PublicRoom(ctx, slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	key := cache.ViewKey(room.ID, "public", stamp(from), stamp(to))
	s.cached(w, r, key, jsonContentType, func() ([]byte, error) {
		v, err := s.svc.PublicView(ctx, slug, from, to)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

// handlePublicICS exports the public calendar as iCalendar.
//
// GET /api/public/{slug}/calendar.ics?mode=expanded|series
func (s *Server) handlePublicICS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	mode, err := ics.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := window(r, s.svc.Location())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	room, err := s.svc.PublicRoom(ctx, slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	key := cache.ViewKey(room.ID, "ics", string(mode), stamp(from), stamp(to))
	s.cached(w, r, key, "text/calendar; charset=utf-8", func() ([]byte, error) {
		v, err := s.svc.PublicView(ctx, slug, from, to)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := ics.Export(&buf, v, mode, s.svc.Location()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

// handlePrintPage renders the printable HTML agenda consumed by
// headless Chromium.
//
// GET /print/{slug}?from&to
func (s *Server) handlePrintPage(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r, s.svc.Location())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	v, err := s.svc.PublicView(r.Context(), chi.URLParam(r, "slug"), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := renderAgenda(&buf, v, s.svc.Location()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeBody(w, http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// handleAgendaPDF prints /print/{slug} to PDF through headless Chromium.
//
// GET /api/public/{slug}/agenda.pdf?from&to
func (s *Server) handleAgendaPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.print.Enabled {
		writeServiceError(w, errPrintDisabled)
		return
	}
	slug := chi.URLParam(r, "slug")
	if _, err := s.svc.PublicRoom(ctx, slug); err != nil {
		writeServiceError(w, err)
		return
	}

	target := s.print.BaseURL + "/print/" + url.PathEscape(slug)
	if q := r.URL.Query(); len(q) > 0 {
		target += "?" + q.Encode()
	}

	pdf, err := s.printPDF(ctx, capture.PrintOptions{URL: target, Timeout: s.print.Timeout})
	if err != nil {
		appLog.Error("agenda pdf failed", err, "slug", slug)
		writeError(w, http.StatusBadGateway, "failed to render agenda")
		return
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+slug+`.pdf"`)
	writeBody(w, http.StatusOK, "application/pdf", pdf)
}

func (s *Server) handleFollowStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.FollowStatus(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleToggleFollow follows or unfollows a public calendar.
//
// POST /api/public/{slug}/follow
func (s *Server) handleToggleFollow(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.ToggleFollow(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
