package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/roster"
)

// CourseResponse represents a course in API responses
type CourseResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Students   []string `json:"students"`
	Professors []string `json:"professors"`
	TAs        []string `json:"tas"`
	Lectures   int      `json:"lectures"`
	Sections   int      `json:"sections"`
	CreatedAt  string   `json:"created_at"`
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func courseToResponse(c roster.Course) CourseResponse {
	return CourseResponse{
		ID:         c.ID,
		Name:       c.Name,
		Students:   nonNil(c.Students),
		Professors: nonNil(c.Professors),
		TAs:        nonNil(c.TAs),
		Lectures:   len(c.Lectures),
		Sections:   len(c.Sections),
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
}

// CourseRequest is the body of POST /courses and PUT /courses/{course}
type CourseRequest struct {
	ID   string `json:"id" validate:"omitempty,max=64"`
	Name string `json:"name" validate:"required,max=70"`
}

// EnrollPersonRequest is the body of POST /courses/{course}/enrollments
type EnrollPersonRequest struct {
	PersonID string `json:"person_id" validate:"required"`
}

// EnrollmentsResponse lists the members of a course by role
type EnrollmentsResponse struct {
	Students   []PersonResponse `json:"students"`
	Professors []PersonResponse `json:"professors"`
	TAs        []PersonResponse `json:"tas"`
}

// CoursesHandler handles course and enrollment endpoints
type CoursesHandler struct {
	engine *roster.Engine
}

// NewCoursesHandler creates a new courses handler
func NewCoursesHandler(engine *roster.Engine) *CoursesHandler {
	return &CoursesHandler{engine: engine}
}

// List returns all courses ordered by name
func (h *CoursesHandler) List(w http.ResponseWriter, r *http.Request) {
	courses := h.engine.Graph().Courses()
	response := make([]CourseResponse, len(courses))
	for i := range courses {
		response[i] = courseToResponse(courses[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Create adds a new course
func (h *CoursesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CourseRequest
	if err := decodeRequest(r, &req); err != nil {
		respondAppError(w, r, err)
		return
	}
	c, err := h.engine.CreateCourse(r.Context(), roster.CourseInput{ID: req.ID, Name: req.Name})
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, courseToResponse(c))
}

// Get returns one course
func (h *CoursesHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := resolveCourse(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, courseToResponse(c))
}

// Rename changes a course's name
func (h *CoursesHandler) Rename(w http.ResponseWriter, r *http.Request) {
	c, err := resolveCourse(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	var req CourseRequest
	if err := decodeRequest(r, &req); err != nil {
		respondAppError(w, r, err)
		return
	}
	if req.ID != "" && req.ID != c.ID {
		respondError(w, http.StatusBadRequest, "course id cannot be changed")
		return
	}
	c, err = h.engine.RenameCourse(r.Context(), c.ID, req.Name)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, courseToResponse(c))
}

// Delete removes a course with its sessions and memberships
func (h *CoursesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, err := resolveCourse(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if err := h.engine.DeleteCourse(r.Context(), c.ID); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enrollments returns the course members grouped by role
func (h *CoursesHandler) Enrollments(w http.ResponseWriter, r *http.Request) {
	g := h.engine.Graph()
	c, err := resolveCourse(g, r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	members := func(ids []string) []PersonResponse {
		out := make([]PersonResponse, 0, len(ids))
		for _, id := range ids {
			if p, err := g.PersonByID(id); err == nil {
				out = append(out, personToResponse(p))
			}
		}
		return out
	}
	respondJSON(w, http.StatusOK, EnrollmentsResponse{
		Students:   members(c.Students),
		Professors: members(c.Professors),
		TAs:        members(c.TAs),
	})
}

// Enroll adds a person to the course in the membership set of their role
func (h *CoursesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	c, err := resolveCourse(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	var req EnrollPersonRequest
	if err := decodeRequest(r, &req); err != nil {
		respondAppError(w, r, err)
		return
	}
	if err := h.engine.Enroll(r.Context(), req.PersonID, c.ID); err != nil {
		respondAppError(w, r, err)
		return
	}
	h.respondCourse(w, r, c.ID)
}

// Unenroll removes a person from the course
func (h *CoursesHandler) Unenroll(w http.ResponseWriter, r *http.Request) {
	c, err := resolveCourse(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if err := h.engine.Unenroll(r.Context(), chi.URLParam(r, "person"), c.ID); err != nil {
		respondAppError(w, r, err)
		return
	}
	h.respondCourse(w, r, c.ID)
}

func (h *CoursesHandler) respondCourse(w http.ResponseWriter, r *http.Request, courseID string) {
	c, err := h.engine.Graph().CourseByID(courseID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, courseToResponse(c))
}
