package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/richinsley/sketch2go/client"
	"github.com/richinsley/sketch2go/internal/pipeline"
)

const (
	// multipartMemory is how much of an upload ParseMultipartForm keeps in memory before spilling to disk
	multipartMemory = 8 << 20

	// MaxSketchDimension bounds the width and height of an uploaded sketch. The upload size
	// limit bounds bytes only, and a small compressed file can declare a huge canvas.
	MaxSketchDimension = 4096
)

// Handler serves the generation API
type Handler struct {
	pipeline       *pipeline.Manager
	hub            *Hub
	maxUploadBytes int64
}

func NewHandler(mgr *pipeline.Manager, hub *Hub, maxUploadBytes int64) *Handler {
	return &Handler{
		pipeline:       mgr,
		hub:            hub,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers the generation API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/models/status", h.handleModelStatus)
	r.Post("/generate", h.handleGenerate)
	r.Get("/events", h.hub.ServeWS)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, client.ServiceInfo{
		Status:  "running",
		Message: "Sketch-to-Image API is operational",
		Endpoints: map[string]string{
			"health":   "/health",
			"generate": "/generate (POST)",
			"events":   "/events (WS)",
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, client.HealthStatus{
		Status:          "healthy",
		GPUAvailable:    false,
		GPUType:         "CPU",
		EndpointsActive: true,
		Pipeline:        h.pipeline.Name(),
	})
}

func (h *Handler) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	status := client.ModelStatus{ModelsLoaded: h.pipeline.Loaded(), Status: "not_loaded"}
	if status.ModelsLoaded {
		status.Status = "ready"
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(w, http.StatusBadRequest, "Expected a multipart form with a 'file' field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing 'file' field: upload a sketch image")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid file type: %s. Please upload an image.", contentType))
		return
	}

	sketch, err := decodeSketch(file)
	if errors.Is(err, errSketchTooLarge) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Sketch rejected: %v", err))
		return
	} else if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Could not decode image: %v", err))
		return
	}

	prompt := r.FormValue("prompt")
	id := uuid.NewString()
	clientID := r.Header.Get(client.ClientIDHeader)
	log.Printf("[generate] id=%s client=%s prompt=%q", id, clientID, prompt)

	h.hub.Broadcast(client.Event{
		Type: client.EventTypeStarted,
		Data: client.EventStarted{ID: id, ClientID: clientID, Prompt: prompt},
	})

	start := time.Now()
	out, err := h.pipeline.Generate(r.Context(), sketch, prompt, func(step, total int) {
		h.hub.Broadcast(client.Event{
			Type: client.EventTypeProgress,
			Data: client.EventProgress{ID: id, Value: step, Max: total},
		})
	})
	if err != nil {
		h.fail(w, id, err)
		return
	}

	data, err := pipeline.EncodePNG(out.Image, map[string]string{
		"id":              id,
		"pipeline":        h.pipeline.Name(),
		"prompt":          out.Request.Prompt,
		"negative_prompt": out.Request.NegativePrompt,
		"steps":           strconv.Itoa(out.Request.Steps),
		"guidance_scale":  strconv.FormatFloat(out.Request.GuidanceScale, 'f', -1, 64),
	})
	if err != nil {
		h.fail(w, id, err)
		return
	}
	elapsed := math.Round(time.Since(start).Seconds()*100) / 100

	h.hub.Broadcast(client.Event{
		Type: client.EventTypeCompleted,
		Data: client.EventCompleted{ID: id, GenerationTime: elapsed},
	})
	log.Printf("[generate] id=%s completed in %.2fs", id, elapsed)

	bounds := out.Image.Bounds()
	respondJSON(w, http.StatusOK, client.GenerateResponse{
		Success:        true,
		ID:             id,
		Image:          base64.StdEncoding.EncodeToString(data),
		Prompt:         prompt,
		GenerationTime: elapsed,
		ImageSize:      []int{bounds.Dx(), bounds.Dy()},
		Message:        "Image generated successfully",
	})
}

var errSketchTooLarge = errors.New("image too large")

// decodeSketch reads the image header first and only decodes images within MaxSketchDimension
func decodeSketch(file io.ReadSeeker) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, err
	}
	if cfg.Width > MaxSketchDimension || cfg.Height > MaxSketchDimension {
		return nil, fmt.Errorf("%w: %dx%d exceeds %dx%d", errSketchTooLarge, cfg.Width, cfg.Height, MaxSketchDimension, MaxSketchDimension)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(file)
	return img, err
}

func (h *Handler) fail(w http.ResponseWriter, id string, err error) {
	message := fmt.Sprintf("Generation failed: %v", err)
	log.Printf("[generate] id=%s %s", id, message)
	h.hub.Broadcast(client.Event{
		Type: client.EventTypeFailed,
		Data: client.EventFailed{ID: id, Error: message},
	})
	respondError(w, http.StatusInternalServerError, message)
}
