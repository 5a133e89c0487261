package client

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport wraps failures to reach the service at all
	ErrTransport = errors.New("network error")
	// ErrMalformedResponse is returned when a 2xx body does not have the expected JSON shape
	ErrMalformedResponse = errors.New("invalid response from server")
)

// ServerError is returned for any non-2xx status from the service
type ServerError struct {
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("Server error: %d", e.StatusCode)
}

// GenerateResponse is the JSON body returned by POST /generate.
// Only Image is required; everything else is informational.
type GenerateResponse struct {
	Success        bool    `json:"success"`
	ID             string  `json:"id,omitempty"`
	Image          string  `json:"image"`
	Prompt         string  `json:"prompt"`
	GenerationTime float64 `json:"generation_time"`
	ImageSize      []int   `json:"image_size,omitempty"`
	Message        string  `json:"message"`

	// ImageData holds the decoded PNG bytes of Image
	ImageData []byte `json:"-"`
}

// DataURL renders the generated image as an inline data URL
func (r *GenerateResponse) DataURL() string {
	return "data:image/png;base64," + r.Image
}

type ServiceInfo struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

type HealthStatus struct {
	Status          string `json:"status"`
	GPUAvailable    bool   `json:"gpu_available"`
	GPUType         string `json:"gpu_type"`
	EndpointsActive bool   `json:"endpoints_active"`
	Pipeline        string `json:"pipeline,omitempty"`
}

type ModelStatus struct {
	ModelsLoaded bool   `json:"models_loaded"`
	Status       string `json:"status"`
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}
