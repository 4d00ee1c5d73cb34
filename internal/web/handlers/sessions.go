package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

// SessionResponse represents a lecture or section in API responses
type SessionResponse struct {
	ID         string          `json:"id"`
	CourseID   string          `json:"course_id"`
	Kind       string          `json:"kind"`
	Name       string          `json:"name"`
	Attendance []EntryResponse `json:"attendance"`
	CreatedAt  string          `json:"created_at"`
}

// EntryResponse is one attendance entry
type EntryResponse struct {
	PersonID   string `json:"person_id"`
	PersonName string `json:"person_name"`
	MarkedAt   string `json:"marked_at"`
}

// MarkResponse is returned after a face was recognized and marked present
type MarkResponse struct {
	SessionID string        `json:"session_id"`
	Entry     EntryResponse `json:"entry"`
	Distance  float64       `json:"distance"`
}

// MarkRequest is the body of a manual attendance mark
type MarkRequest struct {
	PersonName string `json:"person_name" validate:"omitempty,max=200"`
}

func entryToResponse(e roster.AttendanceEntry) EntryResponse {
	return EntryResponse{
		PersonID:   e.PersonID,
		PersonName: e.PersonName,
		MarkedAt:   e.MarkedAt.Format(time.RFC3339),
	}
}

func entriesToResponse(entries []roster.AttendanceEntry) []EntryResponse {
	out := make([]EntryResponse, len(entries))
	for i := range entries {
		out[i] = entryToResponse(entries[i])
	}
	return out
}

func sessionToResponse(s roster.Session) SessionResponse {
	return SessionResponse{
		ID:         s.ID,
		CourseID:   s.CourseID,
		Kind:       string(s.Kind),
		Name:       s.Name,
		Attendance: entriesToResponse(s.Attendance),
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
	}
}

// SessionsHandler handles lecture, section and attendance endpoints
type SessionsHandler struct {
	engine  *roster.Engine
	service *attendance.Service
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(engine *roster.Engine, svc *attendance.Service) *SessionsHandler {
	return &SessionsHandler{engine: engine, service: svc}
}

func kindParam(r *http.Request) (roster.SessionKind, error) {
	return roster.ParseSessionKind(chi.URLParam(r, "kind"))
}

// resolveSession finds the session named by the URL. {name} is the display name
// ("Lecture 3") or the session ID.
func (h *SessionsHandler) resolveSession(r *http.Request) (roster.Session, error) {
	const op = "web.resolveSession"
	g := h.engine.Graph()
	course, err := resolveCourse(g, r)
	if err != nil {
		return roster.Session{}, err
	}
	kind, err := kindParam(r)
	if err != nil {
		return roster.Session{}, err
	}
	ref := chi.URLParam(r, "name")
	s, err := g.SessionByName(course.ID, ref)
	if err != nil {
		s, err = g.SessionByID(ref)
		if err != nil || s.CourseID != course.ID {
			return roster.Session{}, apperr.E(apperr.NotFound, op, "course %s has no %s %s", course.Name, kind, ref)
		}
	}
	if s.Kind != kind {
		return roster.Session{}, apperr.E(apperr.NotFound, op, "course %s has no %s %s", course.Name, kind, ref)
	}
	return s, nil
}

// resolveStaffSession resolves the URL's session and checks that the acting person runs
// sessions of its kind in the course: the professor for lectures, a TA for sections.
func (h *SessionsHandler) resolveStaffSession(r *http.Request) (roster.Session, error) {
	s, err := h.resolveSession(r)
	if err != nil {
		return roster.Session{}, err
	}
	actor := middleware.GetActorFromContext(r.Context())
	if actor == "" {
		return roster.Session{}, apperr.E(apperr.Invalid, "web.resolveStaffSession", "missing %s header", middleware.ActorHeader)
	}
	if err := h.engine.AuthorizeStaff(actor, s.CourseID, s.Kind); err != nil {
		return roster.Session{}, err
	}
	return s, nil
}

// List returns the sessions of one kind in creation order
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	g := h.engine.Graph()
	course, err := resolveCourse(g, r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	kind, err := kindParam(r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	sessions, err := g.Sessions(course.ID, kind)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	response := make([]SessionResponse, len(sessions))
	for i := range sessions {
		response[i] = sessionToResponse(sessions[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Create adds the next session of a kind. The acting person must be enrolled in the course
// as the kind's staff role.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	course, err := resolveCourse(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	kind, err := kindParam(r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	actor := middleware.GetActorFromContext(r.Context())
	s, err := h.engine.CreateSession(r.Context(), actor, course.ID, kind)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sessionToResponse(s))
}

// Get returns one session with its attendance
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.resolveSession(r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionToResponse(s))
}

// Delete removes a session and its attendance
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, err := h.resolveStaffSession(r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if err := h.engine.DeleteSession(r.Context(), s.CourseID, s.ID); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Attendance returns the attendance entries in marking order
func (h *SessionsHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	s, err := h.resolveSession(r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	entries, err := h.engine.Ledger(s.ID).Entries()
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entriesToResponse(entries))
}

// TakeAttendance recognizes the face in the uploaded image and marks that student present
func (h *SessionsHandler) TakeAttendance(w http.ResponseWriter, r *http.Request) {
	s, err := h.resolveStaffSession(r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	images, err := readImages(w, r, "image")
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if len(images) != 1 {
		respondError(w, http.StatusBadRequest, "exactly one image is required")
		return
	}
	res, err := h.service.TakeAttendance(r.Context(), s.ID, images[0])
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, MarkResponse{
		SessionID: res.SessionID,
		Entry:     entryToResponse(res.Entry),
		Distance:  res.Match.Distance,
	})
}

// Mark records a person as present without recognition
func (h *SessionsHandler) Mark(w http.ResponseWriter, r *http.Request) {
	s, err := h.resolveStaffSession(r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	var req MarkRequest
	if r.ContentLength != 0 {
		if err := decodeRequest(r, &req); err != nil {
			respondAppError(w, r, err)
			return
		}
	}
	entry, err := h.engine.Ledger(s.ID).Mark(r.Context(), chi.URLParam(r, "person"), req.PersonName)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entryToResponse(entry))
}
