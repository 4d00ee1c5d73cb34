// Package faceembed talks to the face embedding server: an image goes in, at most one
// face embedding comes out.
package faceembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultModel        = "face" // model name for reference only
	maxErrorBody        = 512
)

// Face is the embedding of the most confident face found in an image.
type Face struct {
	Embedding []float32
	BBox      []float64 // [x1, y1, x2, y2]
	DetScore  float64
	Model     string
}

// Extractor turns an image into at most one face embedding. A nil Face with a nil error
// means no face was detected.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*Face, error)
}

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL     string
	model       string
	dim         int
	minDetScore float64
	client      *http.Client
}

// NewClient creates a new embedding client. dim is the expected embedding length
// (0 disables the check); faces detected below minDetScore are ignored.
func NewClient(baseURL, model string, dim int, minDetScore float64) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		dim:         dim,
		minDetScore: minDetScore,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Extract detects faces and returns the embedding of the most confident one.
func (c *Client) Extract(ctx context.Context, image []byte) (*Face, error) {
	const op = "faceembed.Extract"
	if len(image) == 0 {
		return nil, apperr.E(apperr.Invalid, op, "image is empty")
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", image)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, fmt.Errorf("failed to parse response: %w", err))
	}

	best := -1
	for i, f := range faceResp.Faces {
		if f.DetScore < c.minDetScore || len(f.Embedding) == 0 {
			continue
		}
		if best < 0 || f.DetScore > faceResp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	f := faceResp.Faces[best]
	if c.dim > 0 && len(f.Embedding) != c.dim {
		return nil, apperr.E(apperr.Internal, op, "server returned %d-dim embedding, expected %d", len(f.Embedding), c.dim)
	}
	model := faceResp.Model
	if model == "" {
		model = c.model
	}
	return &Face{Embedding: f.Embedding, BBox: f.BBox, DetScore: f.DetScore, Model: model}, nil
}
