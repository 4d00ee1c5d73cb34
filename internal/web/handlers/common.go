package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/logger"
	"github.com/kozaktomas/rollcall/internal/roster"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

var validate = validator.New()

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.NotEnrolled, apperr.InvalidRole:
		return http.StatusForbidden
	case apperr.AlreadyMarked, apperr.AlreadyEnrolled, apperr.Conflict:
		return http.StatusConflict
	case apperr.NoMatch, apperr.EmptyGallery:
		return http.StatusUnprocessableEntity
	case apperr.Invalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondAppError translates a core error. Internal details are logged, not returned.
func respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.GetInstance().Errorf("%s %s: %v", r.Method, sanitizeForLog(r.URL.Path), err)
		respondJSON(w, status, map[string]string{"error": "internal error", "kind": kind.String()})
		return
	}
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Msg != "" {
		msg = ae.Msg
	}
	respondJSON(w, status, map[string]string{"error": msg, "kind": kind.String()})
}

// decodeRequest parses a JSON body into dst and validates its struct tags.
func decodeRequest(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.E(apperr.Invalid, "decode", "%s", errInvalidRequestBody)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag())
			}
			return apperr.E(apperr.Invalid, "validate", "invalid fields: %s", strings.Join(fields, ", "))
		}
		return apperr.Wrap(apperr.Invalid, "validate", err)
	}
	return nil
}

// readImages returns the uploaded images of a request: every file of a multipart form
// under field, or the raw body otherwise.
func readImages(w http.ResponseWriter, r *http.Request, field string) ([][]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
			return nil, apperr.E(apperr.Invalid, "upload", "failed to parse multipart form")
		}
		files := r.MultipartForm.File[field]
		images := make([][]byte, 0, len(files))
		for _, fh := range files {
			data, err := func() ([]byte, error) {
				f, err := fh.Open()
				if err != nil {
					return nil, err
				}
				defer f.Close()
				return io.ReadAll(f)
			}()
			if err != nil {
				return nil, apperr.E(apperr.Invalid, "upload", "failed to read file %s", fh.Filename)
			}
			images = append(images, data)
		}
		if len(images) == 0 {
			return nil, apperr.E(apperr.Invalid, "upload", "no %s files provided", field)
		}
		return images, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.E(apperr.Invalid, "upload", "failed to read request body")
	}
	if len(data) == 0 {
		return nil, apperr.E(apperr.Invalid, "upload", "image body is empty")
	}
	return [][]byte{data}, nil
}

// resolveCourse finds the course named by the {course} URL parameter.
func resolveCourse(g *roster.Graph, r *http.Request) (roster.Course, error) {
	return g.ResolveCourse(chi.URLParam(r, "course"))
}

// actorOf returns the acting person, failing with NotFound when the header names nobody.
func actorOf(g *roster.Graph, r *http.Request) (roster.Person, error) {
	id := middleware.GetActorFromContext(r.Context())
	if id == "" {
		return roster.Person{}, apperr.E(apperr.Invalid, "actor", "missing %s header", middleware.ActorHeader)
	}
	return g.PersonByID(id)
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
