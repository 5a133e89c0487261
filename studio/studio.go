// Package studio ties a drawing surface, a prompt and a generation orchestrator into one
// application state, driven by a single event loop.
package studio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/richinsley/sketch2go/canvas"
	"github.com/richinsley/sketch2go/orchestrator"
)

// ErrStopped is returned by Post once the loop has exited
var ErrStopped = errors.New("studio is stopped")

// Frame is a render of the studio state, produced after every processed event
type Frame struct {
	Prompt        string
	State         orchestrator.State
	View          orchestrator.View
	SubmitEnabled bool
	Drawing       bool
	Blank         bool
	Result        *orchestrator.Result
}

type Option func(*Studio)

// WithRenderer sets the function receiving a Frame after each event. It runs on the loop goroutine.
func WithRenderer(fn func(Frame)) Option {
	return func(s *Studio) {
		s.render = fn
	}
}

// WithQueueSize sets the capacity of the event queue
func WithQueueSize(n int) Option {
	return func(s *Studio) {
		s.events = make(chan Event, n)
	}
}

// WithLogger sets the logger for rejected submissions and loop lifecycle
func WithLogger(l *slog.Logger) Option {
	return func(s *Studio) {
		s.log = l
	}
}

// Studio is the application state. Its fields are only mutated by the loop started with Run.
type Studio struct {
	Canvas       *canvas.Canvas
	Orchestrator *orchestrator.Orchestrator

	prompt  string
	ctx     context.Context
	events  chan Event
	stopped chan struct{}
	render  func(Frame)
	log     *slog.Logger
}

// New creates a studio with a fresh surface whose submissions go to gen
func New(gen orchestrator.Generator, opts ...Option) *Studio {
	s := &Studio{
		Canvas:       canvas.New(),
		Orchestrator: orchestrator.New(gen),
		events:       make(chan Event, 64),
		stopped:      make(chan struct{}),
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Post enqueues an event. It blocks while the queue is full and fails once the loop has stopped.
func (s *Studio) Post(ev Event) error {
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// Run processes events until ctx is done. In-flight requests are not cancelled by ctx; their
// completion is simply dropped once the loop has exited.
func (s *Studio) Run(ctx context.Context) error {
	defer close(s.stopped)
	// requests outlive the loop's context on purpose: there is no cancellation
	s.ctx = context.WithoutCancel(ctx)
	s.emit()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			ev.apply(s)
			s.emit()
		}
	}
}

// Prompt returns the current prompt text
func (s *Studio) Prompt() string {
	return s.prompt
}

func (s *Studio) submit() {
	done, err := s.Orchestrator.Submit(s.ctx, s.Canvas, s.prompt)
	if err != nil {
		// the submit control is disabled while submitting; a stray event is ignored
		s.log.Debug("submission ignored", "reason", err)
		return
	}
	go func() {
		res := <-done
		_ = s.Post(generationDone{result: res})
	}()
}

func (s *Studio) frame() Frame {
	state := s.Orchestrator.State()
	return Frame{
		Prompt:        s.prompt,
		State:         state,
		View:          s.Orchestrator.View(),
		SubmitEnabled: state != orchestrator.Submitting,
		Drawing:       s.Canvas.Drawing(),
		Blank:         s.Canvas.IsBlank(),
		Result:        s.Orchestrator.Result(),
	}
}

func (s *Studio) emit() {
	if s.render != nil {
		s.render(s.frame())
	}
}
