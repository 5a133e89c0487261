package orchestrator

import (
	"context"
	"errors"
	"net"

	"github.com/richinsley/sketch2go/canvas"
	"github.com/richinsley/sketch2go/client"
)

// State is the lifecycle of one generation request
type State int

const (
	Idle State = iota
	Submitting
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ViewKind selects which result view is shown
type ViewKind int

const (
	ViewEmpty ViewKind = iota
	ViewLoading
	ViewImage
	ViewError
)

func (k ViewKind) String() string {
	switch k {
	case ViewEmpty:
		return "empty"
	case ViewLoading:
		return "loading"
	case ViewImage:
		return "image"
	case ViewError:
		return "error"
	}
	return "unknown"
}

// View is what the result panel displays. Exactly one of ImageDataURL and Message is set
// for ViewImage and ViewError respectively.
type View struct {
	Kind         ViewKind
	ImageDataURL string
	Message      string
}

// Result is the outcome of the latest submission
type Result struct {
	Prompt string

	// success
	Image    []byte
	DataURL  string
	Response *client.GenerateResponse

	// failure
	Err     error
	Message string
}

// Failed reports whether the submission ended in an error
func (r *Result) Failed() bool {
	return r.Err != nil
}

var (
	// ErrBusy rejects a submission while another one is in flight
	ErrBusy = errors.New("a generation is already in progress")
	// ErrEmptyCanvas is reported when the snapshot has nothing drawn on it
	ErrEmptyCanvas = errors.New("canvas is empty")
)

// Describe turns any submission error into the short message shown to the user
func Describe(err error) string {
	var serr *client.ServerError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, canvas.ErrNotReady):
		return "Canvas is not ready"
	case errors.Is(err, ErrEmptyCanvas):
		return "Canvas is empty: draw something first"
	case errors.As(err, &serr):
		return serr.Error()
	case errors.Is(err, client.ErrMalformedResponse):
		return "Invalid response from server"
	case errors.Is(err, context.Canceled):
		return "Request was cancelled"
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return "Request timed out"
	case errors.Is(err, client.ErrTransport):
		return "Network error: could not reach the generation service"
	}
	return err.Error()
}

// isTimeout reports a net.Error timeout, which is what an http.Client.Timeout produces
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
