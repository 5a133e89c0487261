package studio

import (
	"github.com/richinsley/sketch2go/canvas"
	"github.com/richinsley/sketch2go/orchestrator"
)

// Event is a user input or an internal notification processed by the studio loop.
// Events are applied one at a time, in order, on the loop goroutine.
type Event interface {
	apply(s *Studio)
}

// PointerDown starts a stroke
type PointerDown struct {
	Point canvas.Point
}

// PointerMove extends the active stroke
type PointerMove struct {
	Point canvas.Point
}

// PointerUp ends the active stroke
type PointerUp struct{}

// PointerLeave ends the active stroke when the pointer leaves the surface
type PointerLeave struct{}

// ClearCanvas wipes the surface
type ClearCanvas struct{}

// SetPrompt replaces the prompt text
type SetPrompt struct {
	Prompt string
}

// Submit sends the current surface and prompt for generation
type Submit struct{}

// Dismiss hides a finished result
type Dismiss struct{}

// generationDone is posted back into the queue when the in-flight request resolves
type generationDone struct {
	result *orchestrator.Result
}

func (e PointerDown) apply(s *Studio) { s.Canvas.BeginStroke(e.Point) }
func (e PointerMove) apply(s *Studio) { s.Canvas.ExtendStroke(e.Point) }
func (PointerUp) apply(s *Studio) { s.Canvas.EndStroke() }
func (PointerLeave) apply(s *Studio) { s.Canvas.EndStroke() }
func (ClearCanvas) apply(s *Studio) { s.Canvas.Clear() }
func (e SetPrompt) apply(s *Studio) { s.prompt = e.Prompt }
func (Dismiss) apply(s *Studio) { s.Orchestrator.Dismiss() }
func (Submit) apply(s *Studio) { s.submit() }

// the orchestrator already holds the result; the loop only needs to render again
func (generationDone) apply(s *Studio) {}
