package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindd/internal/access"
	"remindd/internal/dispatch"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Engine is the dispatch boundary the HTTP layer consumes.
type Engine interface {
	RunCycle(ctx context.Context) (dispatch.Report, error)
	DispatchNow(ctx context.Context, eventID int64) (dispatch.Outcome, error)
	LastReport() (dispatch.Report, time.Time, bool)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	store   store.Store
	engine  Engine
	checker *access.Checker
	log     logx.Logger
	mux     *http.ServeMux
}

// New creates the HTTP handler and registers all routes.
func New(st store.Store, eng Engine, checker *access.Checker, log logx.Logger) http.Handler {
	h := &Handler{store: st, engine: eng, checker: checker, log: log, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /api/dispatch", h.runCycle)
	h.mux.HandleFunc("POST /api/events/{id}/dispatch", h.dispatchNow)
	h.mux.HandleFunc("GET /api/stats", h.stats)

	h.mux.HandleFunc("GET /api/events/upcoming", h.upcoming)
	h.mux.HandleFunc("GET /api/events/upcoming.ics", h.upcomingICS)
	h.mux.HandleFunc("POST /api/events", h.createEvent)
	h.mux.HandleFunc("GET /api/events", h.listEvents)
	h.mux.HandleFunc("GET /api/events/{id}", h.getEvent)
	h.mux.HandleFunc("PUT /api/events/{id}", h.updateEvent)
	h.mux.HandleFunc("DELETE /api/events/{id}", h.deleteEvent)

	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h.logging(h.mux)
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug("request handled",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

// currentUser resolves the caller from the X-User-Email header. Auth proper
// (sessions, tokens) is an external collaborator; this layer only needs an
// identity to scope ownership.
func (h *Handler) currentUser(r *http.Request) (*store.User, error) {
	email := r.Header.Get("X-User-Email")
	if email == "" {
		return nil, nil
	}
	u, err := h.store.UserByEmail(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) *store.User {
	u, err := h.currentUser(r)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return nil
	}
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return nil
	}
	return u
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// ---- dispatch boundary ----

// POST /api/dispatch runs one cycle now, outside the timer.
func (h *Handler) runCycle(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.RunCycle(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, "cycle finished", rep)
}

// POST /api/events/{id}/dispatch is the operator-initiated immediate delivery.
func (h *Handler) dispatchNow(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	ev, err := h.store.EventByID(r.Context(), id)
	if err == nil && h.checker.CanAccessEvent(u, ev) == access.Forbidden {
		writeError(w, http.StatusForbidden, "access denied to this event")
		return
	}

	outcome, err := h.engine.DispatchNow(r.Context(), id)
	switch outcome {
	case dispatch.OutcomeSent:
		writeJSON(w, http.StatusOK, "reminder sent", map[string]string{"outcome": outcome.String()})
	case dispatch.OutcomeAlreadySent:
		writeError(w, http.StatusConflict, "reminder already sent")
	case dispatch.OutcomeNotFound:
		writeError(w, http.StatusNotFound, fmt.Sprintf("event %d not found", id))
	case dispatch.OutcomeDeliveryFailed:
		writeError(w, http.StatusBadGateway, "delivery failed: "+err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

// GET /api/stats returns sent/pending counters plus simple admin stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	if !h.checker.IsAdmin(u) {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	ctx := r.Context()
	sent, pending, err := h.store.Counts(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	now := time.Now()
	created24h, _ := h.store.CountCreatedSince(ctx, now.Add(-24*time.Hour))
	sent24h, _ := h.store.CountSentSince(ctx, now.Add(-24*time.Hour))
	perDay, _ := h.store.EventsPerDay(ctx, now.AddDate(0, 0, -7), now)

	data := map[string]any{
		"sent":        sent,
		"pending":     pending,
		"created_24h": created24h,
		"sent_24h":    sent24h,
		"per_day":     perDay,
	}
	if rep, at, ok := h.engine.LastReport(); ok {
		data["last_cycle"] = rep
		data["last_cycle_at"] = at
	}
	writeJSON(w, http.StatusOK, "stats retrieved", data)
}

// ---- thin CRUD collaborator ----

type eventRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	EventDate    string `json:"eventDate"`    // "2006-01-02"
	ReminderTime string `json:"reminderTime"` // RFC3339
}

type eventResponse struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	EventDate        string     `json:"eventDate"`
	ReminderTime     time.Time  `json:"reminderTime"`
	ReminderSent     bool       `json:"reminderSent"`
	ReminderSentTime *time.Time `json:"reminderSentTime,omitempty"`
}

func toEventResponse(ev *store.Event) eventResponse {
	return eventResponse{
		ID:               ev.ID,
		Title:            ev.Title,
		Description:      ev.Description,
		EventDate:        ev.EventDate.Format("2006-01-02"),
		ReminderTime:     ev.ReminderTime,
		ReminderSent:     ev.ReminderSent,
		ReminderSentTime: ev.ReminderSentTime,
	}
}

func (req *eventRequest) parse() (eventDate, reminderTime time.Time, err error) {
	if req.Title == "" {
		return eventDate, reminderTime, errors.New("title is required")
	}
	eventDate, err = time.Parse("2006-01-02", req.EventDate)
	if err != nil {
		return eventDate, reminderTime, fmt.Errorf("invalid eventDate: %v", err)
	}
	reminderTime, err = time.Parse(time.RFC3339, req.ReminderTime)
	if err != nil {
		return eventDate, reminderTime, fmt.Errorf("invalid reminderTime: %v", err)
	}
	return eventDate, reminderTime.Truncate(time.Second), nil
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	eventDate, reminderTime, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A reminderTime in the past is legal: the next cycle treats it as
	// immediately due.
	ev := &store.Event{
		UserID:       u.ID,
		Title:        req.Title,
		Description:  req.Description,
		EventDate:    eventDate,
		ReminderTime: reminderTime,
	}
	if err := h.store.CreateEvent(r.Context(), ev); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, "event created", toEventResponse(ev))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	events, err := h.store.ListEvents(r.Context(), u.ID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	out := make([]eventResponse, 0, len(events))
	for i := range events {
		out = append(out, toEventResponse(&events[i]))
	}
	msg := "events retrieved"
	if len(out) == 0 {
		msg = "no events found for current user"
	}
	writeJSON(w, http.StatusOK, msg, out)
}

// loadOwned fetches an event and enforces the ownership decision.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request, u *store.User) *store.Event {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return nil
	}
	ev, err := h.store.EventByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("event %d not found", id))
		return nil
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return nil
	}
	if h.checker.CanAccessEvent(u, ev) == access.Forbidden {
		writeError(w, http.StatusForbidden, "access denied to this event")
		return nil
	}
	return ev
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	ev := h.loadOwned(w, r, u)
	if ev == nil {
		return
	}
	writeJSON(w, http.StatusOK, "event retrieved", toEventResponse(ev))
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	ev := h.loadOwned(w, r, u)
	if ev == nil {
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	eventDate, reminderTime, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev.Title = req.Title
	ev.Description = req.Description
	ev.EventDate = eventDate
	if !reminderTime.Equal(ev.ReminderTime) {
		// Rescheduling intentionally re-arms the reminder: the sent pair is
		// cleared together in the same write.
		ev.ReminderTime = reminderTime
		ev.ReminderSent = false
		ev.ReminderSentTime = nil
	}
	if err := h.store.UpdateEvent(r.Context(), ev); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, "event updated", toEventResponse(ev))
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	ev := h.loadOwned(w, r, u)
	if ev == nil {
		return
	}
	if err := h.store.DeleteEvent(r.Context(), ev.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, "event deleted", nil)
}

// ---- upcoming view ----

func (h *Handler) upcomingWindow(r *http.Request) (from, to time.Time, err error) {
	within := r.URL.Query().Get("within")
	if within == "" {
		within = "24h"
	}
	d, err := time.ParseDuration(within)
	if err != nil || d <= 0 {
		return from, to, errors.New("invalid within duration")
	}
	now := time.Now().Truncate(time.Second)
	return now, now.Add(d), nil
}

func (h *Handler) upcoming(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	from, to, err := h.upcomingWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.store.FindUpcoming(r.Context(), u.ID, from, to)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	out := make([]eventResponse, 0, len(events))
	for i := range events {
		out = append(out, toEventResponse(&events[i]))
	}
	writeJSON(w, http.StatusOK, "upcoming events retrieved", out)
}

func (h *Handler) upcomingICS(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	from, to, err := h.upcomingWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.store.FindUpcoming(r.Context(), u.ID, from, to)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="upcoming.ics"`)
	_, _ = w.Write([]byte(buildICS(events)))
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "ok", nil)
}
