package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"daycal/internal/calendar"
	"daycal/internal/config"
	"daycal/internal/ics"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// TimeLayout is the wire format of event timestamps.
const TimeLayout = "2006-01-02T15:04"

const maxBodyBytes = 1 << 20

// Accepted input layouts, most specific last.
var inputLayouts = []string{TimeLayout, "2006-01-02T15:04:05", time.RFC3339}

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidInterval    = "invalid_interval"
	codeOverlapConflict    = "overlap_conflict"
	codeInvalidDate        = "invalid_date"
	codeInvalidMinutes     = "invalid_minutes"
	codeInternalError      = "internal_error"
)

// Server exposes the calendar store over a JSON HTTP API.
type Server struct {
	cfg   *config.Config
	store *calendar.Store
	mux   *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, store *calendar.Store) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler: routes, optional Basic Auth and
// request logging.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		h = s.basicAuthMiddleware(h)
	}
	return requestLogger(h)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /events", s.handleListEvents)
	s.mux.HandleFunc("GET /events/today", s.handleToday)
	s.mux.HandleFunc("GET /events/today/remaining", s.handleRemainingToday)
	s.mux.HandleFunc("GET /events/day/{date}", s.handleDay)
	s.mux.HandleFunc("GET /events/next-slot", s.handleNextSlotToday)
	s.mux.HandleFunc("GET /events/day/{date}/next-slot", s.handleNextSlotForDate)
	s.mux.HandleFunc("GET /events.ics", s.handleExport)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="daycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is the wire shape of an event. ID is optional on input.
type eventDTO struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// slotResponse is returned by the next-slot endpoints. A missing slot is
// a normal outcome, reported with Available=false.
type slotResponse struct {
	Available bool      `json:"available"`
	Slot      *eventDTO `json:"slot,omitempty"`
	Message   string    `json:"message,omitempty"`
}

func toDTO(ev model.Event) eventDTO {
	return eventDTO{
		ID:    ev.ID,
		Title: ev.Title,
		Start: ev.Start.Format(TimeLayout),
		End:   ev.End.Format(TimeLayout),
	}
}

func toDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toDTO(ev))
	}
	return out
}

// parseTimestamp parses v in loc. An empty value yields the zero time so
// that the store reports the missing bound.
func parseTimestamp(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q must be in YYYY-MM-DDTHH:mm form", v)
}

// POST /events
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventDTO
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	loc := s.store.Location()
	start, err := parseTimestamp(req.Start, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return
	}
	end, err := parseTimestamp(req.End, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return
	}

	saved, err := s.store.Insert(model.Event{
		ID:    strings.TrimSpace(req.ID),
		Title: req.Title,
		Start: start,
		End:   end,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	appLog.Info("event created", "id", saved.ID, "start", saved.Start.Format(TimeLayout), "end", saved.End.Format(TimeLayout))
	writeJSON(w, http.StatusCreated, toDTO(saved))
}

// GET /events
func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toDTOs(s.store.List()))
}

// GET /events/today
func (s *Server) handleToday(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toDTOs(s.store.ListToday()))
}

// GET /events/today/remaining
func (s *Server) handleRemainingToday(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toDTOs(s.store.ListRemainingToday()))
}

// GET /events/day/{date}
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, ok := s.pathDate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toDTOs(s.store.ListForDate(day)))
}

// GET /events/next-slot?minutes=N
func (s *Server) handleNextSlotToday(w http.ResponseWriter, r *http.Request) {
	s.writeSlot(w, r, s.store.Now(), "No available slot today")
}

// GET /events/day/{date}/next-slot?minutes=N
func (s *Server) handleNextSlotForDate(w http.ResponseWriter, r *http.Request) {
	day, ok := s.pathDate(w, r)
	if !ok {
		return
	}
	s.writeSlot(w, r, day, "No available slot on "+day.Format(time.DateOnly))
}

// GET /events.ics
func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export(s.store.List(), s.store.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (s *Server) writeSlot(w http.ResponseWriter, r *http.Request, day time.Time, notFound string) {
	raw := r.URL.Query().Get("minutes")
	minutes, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidMinutes, "query parameter minutes must be an integer")
		return
	}

	slot, ok, err := s.store.FindFreeSlot(minutes, day)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, slotResponse{Available: false, Message: notFound})
		return
	}
	dto := toDTO(slot.Event())
	writeJSON(w, http.StatusOK, slotResponse{Available: true, Slot: &dto})
}

func (s *Server) pathDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.PathValue("date")
	day, err := time.ParseInLocation(time.DateOnly, v, s.store.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidDate, fmt.Sprintf("date %q must be in YYYY-MM-DD form", v))
		return time.Time{}, false
	}
	return day, true
}

// writeStoreError maps validation errors to 400 and anything else to 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calendar.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, codeInvalidInterval, err.Error())
	case errors.Is(err, calendar.ErrOverlapConflict):
		writeError(w, http.StatusBadRequest, codeOverlapConflict, err.Error())
	case errors.Is(err, calendar.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, codeInvalidMinutes, err.Error())
	default:
		appLog.Error("unexpected store error", err)
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
