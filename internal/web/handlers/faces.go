package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/roster"
)

const defaultRankSize = 5

// FaceSampleResponse describes a stored face sample. The vector itself is not exposed.
type FaceSampleResponse struct {
	ID        int64  `json:"id"`
	Seq       int    `json:"seq"`
	Model     string `json:"model"`
	Dim       int    `json:"dim"`
	CreatedAt string `json:"created_at"`
}

func sampleToResponse(e database.StoredEmbedding) FaceSampleResponse {
	return FaceSampleResponse{
		ID:        e.ID,
		Seq:       e.Seq,
		Model:     e.Model,
		Dim:       e.Dim,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func samplesToResponse(samples []database.StoredEmbedding) []FaceSampleResponse {
	out := make([]FaceSampleResponse, len(samples))
	for i := range samples {
		out[i] = sampleToResponse(samples[i])
	}
	return out
}

// CandidateResponse is one ranked gallery label
type CandidateResponse struct {
	PersonID string  `json:"person_id"`
	Name     string  `json:"name,omitempty"`
	Distance float64 `json:"distance"`
	Match    bool    `json:"match"`
}

// FacesHandler handles face enrollment and recognition diagnostics
type FacesHandler struct {
	engine  *roster.Engine
	service *attendance.Service
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(engine *roster.Engine, svc *attendance.Service) *FacesHandler {
	return &FacesHandler{engine: engine, service: svc}
}

// List returns a person's stored samples
func (h *FacesHandler) List(w http.ResponseWriter, r *http.Request) {
	samples, err := h.service.EmbeddingsFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, samplesToResponse(samples))
}

// Add extracts the face in the uploaded image and appends it to the person's samples
func (h *FacesHandler) Add(w http.ResponseWriter, r *http.Request) {
	images, err := readImages(w, r, "image")
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if len(images) != 1 {
		respondError(w, http.StatusBadRequest, "exactly one image is required")
		return
	}
	stored, err := h.service.EnrollFace(r.Context(), chi.URLParam(r, "id"), images[0])
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sampleToResponse(stored))
}

// Replace swaps all of the person's samples for faces from the uploaded images
func (h *FacesHandler) Replace(w http.ResponseWriter, r *http.Request) {
	images, err := readImages(w, r, "images")
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	stored, err := h.service.ReplaceFaces(r.Context(), chi.URLParam(r, "id"), images)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, samplesToResponse(stored))
}

// Identify classifies the uploaded face against the course's students without marking
func (h *FacesHandler) Identify(w http.ResponseWriter, r *http.Request) {
	course, err := resolveCourse(h.engine.Graph(), r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	images, err := readImages(w, r, "image")
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	id, err := h.service.Identify(r.Context(), course.ID, images[0])
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CandidateResponse{
		PersonID: id.Person.ID,
		Name:     id.Person.Name,
		Distance: id.Match.Distance,
		Match:    true,
	})
}

// Rank lists the nearest students to the uploaded face, n of them (default 5)
func (h *FacesHandler) Rank(w http.ResponseWriter, r *http.Request) {
	g := h.engine.Graph()
	course, err := resolveCourse(g, r)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	if n <= 0 {
		n = defaultRankSize
	}
	images, err := readImages(w, r, "image")
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	ranked, err := h.service.Rank(r.Context(), course.ID, images[0], n)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	threshold := h.service.Matcher().Threshold()
	response := make([]CandidateResponse, len(ranked))
	for i, m := range ranked {
		c := CandidateResponse{PersonID: m.Label, Distance: m.Distance, Match: m.Distance <= threshold}
		if p, err := g.PersonByID(m.Label); err == nil {
			c.Name = p.Name
		}
		response[i] = c
	}
	respondJSON(w, http.StatusOK, response)
}
