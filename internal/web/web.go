package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hearingcal/internal/appointment"
	"hearingcal/internal/booking"
	"hearingcal/internal/calendar"
	"hearingcal/internal/clock"
	"hearingcal/internal/colors"
	"hearingcal/internal/config"
	"hearingcal/internal/ics"
	appLog "hearingcal/internal/log"
	"hearingcal/internal/schedule"
	"hearingcal/internal/store"
)

const (
	maxBodyBytes   = 1 << 20
	maxWindow      = 366 * 24 * time.Hour
	shutdownGrace  = 10 * time.Second
	dateTimeLayout = "2006-01-02T15:04"
)

// Deps are the services the HTTP API fronts.
type Deps struct {
	Booking *booking.Service
	Colors  *colors.Registry
	// Sources feed the calendar view. Wrap best-effort sources with
	// calendar.Optional.
	Sources  []calendar.Source
	Location *time.Location
	Clock    clock.Clock
}

// Server provides the booking, calendar and color APIs.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
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
			w.Header().Set("WWW-Authenticate", `Basic realm="hearingcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/validate/appointment", s.handleValidate)
	s.mux.HandleFunc("POST /api/appointments", s.handleCreate)
	s.mux.HandleFunc("DELETE /api/appointments/{id}", s.handleDelete)

	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleCalendarICS)

	s.mux.HandleFunc("GET /api/location-colors", s.handleListColors)
	s.mux.HandleFunc("PUT /api/location-colors/{location}", s.handlePutColor)
	s.mux.HandleFunc("DELETE /api/location-colors/{location}", s.handleDeleteColor)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// candidateRequest is the wire form of a new appointment. Times are
// RFC3339, or "2006-01-02T15:04" in the configured timezone.
type candidateRequest struct {
	OwnerID       string           `json:"ownerId"`
	Kind          appointment.Kind `json:"kind"`
	Title         string           `json:"title"`
	Location      string           `json:"location"`
	Start         string           `json:"start"`
	End           string           `json:"end"`
	CaseReference string           `json:"caseReference"`
	Status        string           `json:"status"`
	Note          string           `json:"note"`
	Participants  []string         `json:"participants"`

	OverrideTravelWarning bool `json:"overrideTravelWarning"`
}

type conflictResponse struct {
	Error  string          `json:"error"`
	Result schedule.Result `json:"result"`
}

type createdResponse struct {
	appointment.Appointment
	Result schedule.Result `json:"result"`
}

func (s *Server) decodeCandidate(r *http.Request) (appointment.Appointment, bool, error) {
	var req candidateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return appointment.Appointment{}, false, fmt.Errorf("malformed request body: %w", err)
	}
	if req.OwnerID == "" {
		req.OwnerID = r.URL.Query().Get("owner")
	}
	start, err := parseTime(req.Start, s.deps.Location)
	if err != nil {
		return appointment.Appointment{}, false, fmt.Errorf("start: %w", err)
	}
	end, err := parseTime(req.End, s.deps.Location)
	if err != nil {
		return appointment.Appointment{}, false, fmt.Errorf("end: %w", err)
	}

	f := appointment.Fields{
		OwnerID:       req.OwnerID,
		Title:         req.Title,
		Location:      req.Location,
		Start:         start,
		End:           end,
		CaseReference: req.CaseReference,
		Status:        req.Status,
		Note:          req.Note,
		Participants:  req.Participants,
	}
	var a appointment.Appointment
	switch req.Kind {
	case "", appointment.KindHearing:
		a, err = appointment.NewHearing(f)
	case appointment.KindTask:
		a, err = appointment.NewTask(f)
	default:
		err = fmt.Errorf("%w: kind %q cannot be booked", appointment.ErrInvalidAppointment, req.Kind)
	}
	return a, req.OverrideTravelWarning, err
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	candidate, _, err := s.decodeCandidate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Booking.Validate(r.Context(), candidate)
	if err != nil {
		appLog.Error("validate failed", err, "owner", candidate.OwnerID)
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	candidate, override, err := s.decodeCandidate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, res, err := s.deps.Booking.Create(r.Context(), candidate, override)
	if err != nil {
		if errors.Is(err, appointment.ErrInvalidAppointment) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("create appointment failed", err, "owner", candidate.OwnerID)
		writeError(w, http.StatusInternalServerError, "could not save appointment")
		return
	}
	if !res.Valid {
		status := http.StatusUnprocessableEntity
		if res.ReasonCode == schedule.ReasonStoreConflict {
			status = http.StatusConflict
		}
		writeJSON(w, status, conflictResponse{Error: res.Message, Result: res})
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{Appointment: saved, Result: res})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	err := s.deps.Booking.Delete(r.Context(), owner, r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case err != nil:
		appLog.Error("delete appointment failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "could not delete appointment")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) buildView(w http.ResponseWriter, r *http.Request) (*calendar.View, bool) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return nil, false
	}
	from, to, err := s.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	appLog.Debug("api calendar request",
		"owner", owner,
		"range_start", from.Format(time.RFC3339),
		"range_end", to.Format(time.RFC3339),
	)
	view, err := calendar.BuildView(r.Context(), owner, from, to, s.deps.Colors, s.deps.Sources...)
	if err != nil {
		appLog.Error("api calendar: build view failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to load calendar")
		return nil, false
	}
	return view, true
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	view, ok := s.buildView(w, r)
	if !ok {
		return
	}
	events := make([]calendar.DisplayEvent, 0, view.Len())
	seq := view.All()
	if d := r.URL.Query().Get("day"); d != "" {
		day, err := time.ParseInLocation(time.DateOnly, d, s.deps.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		seq = view.Day(day)
	}
	for e := range seq {
		events = append(events, e)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	view, ok := s.buildView(w, r)
	if !ok {
		return
	}
	doc := ics.Encode(view.Owner(), view.All(), s.deps.Clock.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

func (s *Server) handleListColors(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	m, err := s.deps.Colors.ListColors(r.Context(), owner)
	if err != nil {
		appLog.Error("list colors failed", err, "owner", owner)
		writeError(w, http.StatusServiceUnavailable, "color store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePutColor(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var body struct {
		Color colors.Color `json:"color"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"color\":\"#rrggbb\"}")
		return
	}
	location := r.PathValue("location")
	err := s.deps.Colors.SetColor(r.Context(), owner, location, body.Color)
	switch {
	case errors.Is(err, colors.ErrEmptyLocation):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		appLog.Error("set color failed", err, "owner", owner, "location", location)
		writeError(w, http.StatusServiceUnavailable, "color store unavailable")
	default:
		writeJSON(w, http.StatusOK, map[string]colors.Color{location: body.Color})
	}
}

func (s *Server) handleDeleteColor(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.deps.Colors.RemoveColor(r.Context(), owner, r.PathValue("location")); err != nil {
		appLog.Error("remove color failed", err, "owner", owner)
		writeError(w, http.StatusServiceUnavailable, "color store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// window reads from/to. to is exclusive and defaults to one day after
// from; from defaults to today.
func (s *Server) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from := appointment.DateOf(s.deps.Clock.Now().In(s.deps.Location))
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v, s.deps.Location)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
		from = t
	}
	to := from.AddDate(0, 0, 1)
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v, s.deps.Location)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	if to.Sub(from) > maxWindow {
		return time.Time{}, time.Time{}, errors.New("range is limited to one year")
	}
	return from, to, nil
}

// parseTime accepts RFC3339, a local date-time or a bare date, the last
// two in loc.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("time is required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range []string{dateTimeLayout, time.DateTime, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or time", v)
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return "", false
	}
	return owner, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
