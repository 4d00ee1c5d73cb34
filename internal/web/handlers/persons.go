package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/roster"
)

// PersonResponse represents a person in API responses
type PersonResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Role      string   `json:"role"`
	Courses   []string `json:"courses"`
	CreatedAt string   `json:"created_at"`
}

func personToResponse(p roster.Person) PersonResponse {
	courses := p.Courses
	if courses == nil {
		courses = []string{}
	}
	return PersonResponse{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Phone:     p.Phone,
		Role:      string(p.Role),
		Courses:   courses,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

// CreatePersonRequest is the body of POST /persons
type CreatePersonRequest struct {
	ID    string `json:"id" validate:"omitempty,max=64"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
	Role  string `json:"role" validate:"required"`
}

// UpdatePersonRequest is the body of PUT /persons/{id}; omitted fields stay unchanged
type UpdatePersonRequest struct {
	Name  *string `json:"name" validate:"omitempty,max=200"`
	Email *string `json:"email" validate:"omitempty,email"`
	Phone *string `json:"phone" validate:"omitempty,max=32"`
}

// SelfEnrollRequest names a course by ID or name
type SelfEnrollRequest struct {
	Course string `json:"course" validate:"required"`
}

// PersonsHandler handles person endpoints and the acting person's self-service routes
type PersonsHandler struct {
	engine  *roster.Engine
	service *attendance.Service
}

// NewPersonsHandler creates a new persons handler
func NewPersonsHandler(engine *roster.Engine, svc *attendance.Service) *PersonsHandler {
	return &PersonsHandler{engine: engine, service: svc}
}

// List returns all persons, filtered by the q query parameter when present
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	persons := h.engine.Graph().FindPersons(r.URL.Query().Get("q"))
	response := make([]PersonResponse, len(persons))
	for i := range persons {
		response[i] = personToResponse(persons[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Create registers a new person
func (h *PersonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonRequest
	if err := decodeRequest(r, &req); err != nil {
		respondAppError(w, r, err)
		return
	}
	role, err := roster.ParseRole(req.Role)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	p, err := h.engine.CreatePerson(r.Context(), roster.PersonInput{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		Role:  role,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, personToResponse(p))
}

// Get returns one person
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Graph().PersonByID(chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, personToResponse(p))
}

// Update changes a person's name, email or phone
func (h *PersonsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdatePersonRequest
	if err := decodeRequest(r, &req); err != nil {
		respondAppError(w, r, err)
		return
	}
	p, err := h.engine.UpdatePerson(r.Context(), chi.URLParam(r, "id"), roster.PersonUpdate{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, personToResponse(p))
}

// Delete removes a person with their face samples, memberships and attendance entries
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePerson(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Courses returns the courses a person is enrolled in
func (h *PersonsHandler) Courses(w http.ResponseWriter, r *http.Request) {
	g := h.engine.Graph()
	p, err := g.PersonByID(chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	response := make([]CourseResponse, 0, len(p.Courses))
	for _, id := range p.Courses {
		c, err := g.CourseByID(id)
		if err != nil {
			continue // deleted since the person snapshot was taken
		}
		response = append(response, courseToResponse(c))
	}
	respondJSON(w, http.StatusOK, response)
}

// Me returns the acting person
func (h *PersonsHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := actorOf(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, personToResponse(p))
}

// EnrollMe enrolls the acting person in a course
func (h *PersonsHandler) EnrollMe(w http.ResponseWriter, r *http.Request) {
	h.selfService(w, r, h.engine.Enroll)
}

// UnenrollMe removes the acting person from a course
func (h *PersonsHandler) UnenrollMe(w http.ResponseWriter, r *http.Request) {
	h.selfService(w, r, h.engine.Unenroll)
}

func (h *PersonsHandler) selfService(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, personID, courseID string) error) {
	g := h.engine.Graph()
	actor, err := actorOf(g, r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	var req SelfEnrollRequest
	if err := decodeRequest(r, &req); err != nil {
		respondAppError(w, r, err)
		return
	}
	course, err := g.ResolveCourse(req.Course)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if err := apply(r.Context(), actor.ID, course.ID); err != nil {
		respondAppError(w, r, err)
		return
	}
	p, err := g.PersonByID(actor.ID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, personToResponse(p))
}
