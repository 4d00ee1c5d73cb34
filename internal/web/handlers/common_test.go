package handlers

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.NotFound, http.StatusNotFound},
		{apperr.NotEnrolled, http.StatusForbidden},
		{apperr.InvalidRole, http.StatusForbidden},
		{apperr.AlreadyMarked, http.StatusConflict},
		{apperr.Conflict, http.StatusConflict},
		{apperr.NoMatch, http.StatusUnprocessableEntity},
		{apperr.EmptyGallery, http.StatusUnprocessableEntity},
		{apperr.Invalid, http.StatusBadRequest},
		{apperr.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := statusFor(tt.kind); got != tt.want {
				t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestRespondAppError(t *testing.T) {
	t.Run("classified error exposes message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		respondAppError(rec, req, apperr.E(apperr.NotEnrolled, "op", "bob is not enrolled"))

		assertStatusCode(t, rec, http.StatusForbidden)
		assertContentType(t, rec, "application/json")
		assertJSONError(t, rec, "bob is not enrolled")
	})

	t.Run("internal error hides details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		respondAppError(rec, req, errors.New("pq: password authentication failed"))

		assertStatusCode(t, rec, http.StatusInternalServerError)
		assertJSONError(t, rec, "internal error")
	})
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"Algorithms"}`, ""},
		{"malformed", `{"name":`, errInvalidRequestBody},
		{"unknown field", `{"name":"A","color":"red"}`, errInvalidRequestBody},
		{"missing name", `{}`, "name (required)"},
		{"name too long", `{"name":"` + strings.Repeat("x", 71) + `"}`, "name (max)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst CourseRequest
			err := decodeRequest(req, &dst)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if apperr.KindOf(err) != apperr.Invalid {
				t.Fatalf("error kind = %s, want invalid (%v)", apperr.KindOf(err), err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadImages(t *testing.T) {
	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("jpeg-bytes")))
		req.Header.Set("Content-Type", "image/jpeg")
		images, err := readImages(httptest.NewRecorder(), req, "image")
		if err != nil {
			t.Fatal(err)
		}
		if len(images) != 1 || string(images[0]) != "jpeg-bytes" {
			t.Errorf("images = %q", images)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		_, err := readImages(httptest.NewRecorder(), req, "image")
		if apperr.KindOf(err) != apperr.Invalid {
			t.Errorf("err = %v, want invalid", err)
		}
	})

	t.Run("multipart", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		for _, name := range []string{"a.jpg", "b.jpg"} {
			part, err := mw.CreateFormFile("images", name)
			if err != nil {
				t.Fatal(err)
			}
			part.Write([]byte(name))
		}
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		images, err := readImages(httptest.NewRecorder(), req, "images")
		if err != nil {
			t.Fatal(err)
		}
		if len(images) != 2 || string(images[1]) != "b.jpg" {
			t.Errorf("images = %q", images)
		}
	})

	t.Run("multipart without the field", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		mw.WriteField("note", "hi")
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		_, err := readImages(httptest.NewRecorder(), req, "image")
		if apperr.KindOf(err) != apperr.Invalid {
			t.Errorf("err = %v, want invalid", err)
		}
	})
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assertStatusCode(t, rec, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, rec, &result)
	if result["status"] != "ok" {
		t.Errorf("status = %q", result["status"])
	}
}

func TestActorOf(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := actorOf(env.engine.Graph(), req); apperr.KindOf(err) != apperr.Invalid {
		t.Errorf("no header: err = %v", err)
	}
	req = req.WithContext(middleware.SetActorInContext(req.Context(), "ghost"))
	if _, err := actorOf(env.engine.Graph(), req); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("unknown actor: err = %v", err)
	}
	req = req.WithContext(middleware.SetActorInContext(req.Context(), "alice"))
	p, err := actorOf(env.engine.Graph(), req)
	if err != nil || p.Name != "Alice" {
		t.Errorf("actorOf() = %+v, %v", p, err)
	}
}
