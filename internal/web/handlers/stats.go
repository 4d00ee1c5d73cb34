package handlers

import (
	"net/http"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/roster"
)

// StatsResponse summarizes the roster and the face store
type StatsResponse struct {
	Persons     int   `json:"persons"`
	Courses     int   `json:"courses"`
	Sessions    int   `json:"sessions"`
	Enrollments int   `json:"enrollments"`
	Attendance  int   `json:"attendance"`
	FaceSamples int64 `json:"face_samples"`
}

// ConfigResponse exposes the limits clients need to validate input
type ConfigResponse struct {
	MatchThreshold     float64 `json:"match_threshold"`
	MaxSamples         int     `json:"max_samples"`
	EmbeddingDim       int     `json:"embedding_dim"`
	MaxCourseNameLen   int     `json:"max_course_name_length"`
	LookalikeThreshold float64 `json:"lookalike_threshold,omitempty"`
}

// StatsHandler handles statistics and configuration endpoints
type StatsHandler struct {
	config  *config.Config
	engine  *roster.Engine
	service *attendance.Service
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(cfg *config.Config, engine *roster.Engine, svc *attendance.Service) *StatsHandler {
	return &StatsHandler{config: cfg, engine: engine, service: svc}
}

// Get returns roster and sample counts
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Graph().Stats()
	samples, err := h.service.SampleStats(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		Persons:     st.Persons,
		Courses:     st.Courses,
		Sessions:    st.Sessions,
		Enrollments: st.Links,
		Attendance:  st.Entries,
		FaceSamples: samples.Count,
	})
}

// Config returns the matching configuration
func (h *StatsHandler) Config(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		MatchThreshold:     h.config.Match.Threshold,
		MaxSamples:         h.config.Match.MaxSamples,
		EmbeddingDim:       h.config.Embedding.Dim,
		MaxCourseNameLen:   constants.MaxCourseNameLength,
		LookalikeThreshold: h.config.Match.LookalikeThreshold,
	})
}
