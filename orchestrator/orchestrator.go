package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/richinsley/sketch2go/canvas"
	"github.com/richinsley/sketch2go/client"
)

// Generator performs the single network call of a submission. *client.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, sketch []byte, prompt string) (*client.GenerateResponse, error)
}

// Snapshotter produces the encoded image that is submitted. *canvas.Canvas satisfies it.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// blankReporter is implemented by surfaces that can tell whether anything was drawn
type blankReporter interface {
	IsBlank() bool
}

// Callbacks are optional hooks into the orchestrator's lifecycle
type Callbacks struct {
	// OnStateChanged is called after every transition, outside of the orchestrator's lock.
	// result is nil for Idle and Submitting.
	OnStateChanged func(o *Orchestrator, state State, result *Result)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCallbacks registers lifecycle callbacks
func WithCallbacks(cb *Callbacks) Option {
	return func(o *Orchestrator) {
		o.callbacks = cb
	}
}

// Orchestrator owns the lifecycle of generation requests: at most one is in flight
// and only the latest result is kept.
type Orchestrator struct {
	mu        sync.Mutex
	gen       Generator
	state     State
	result    *Result
	callbacks *Callbacks
}

// New creates an idle orchestrator whose submissions go to gen
func New(gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:   gen,
		state: Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Result returns the latest result, or nil while idle or submitting
func (o *Orchestrator) Result() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// View returns the result view for the current state
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Submitting:
		return View{Kind: ViewLoading}
	case Success:
		return View{Kind: ViewImage, ImageDataURL: o.result.DataURL}
	case Failed:
		return View{Kind: ViewError, Message: o.result.Message}
	}
	return View{Kind: ViewEmpty}
}

// Submit captures a snapshot of src and sends it with prompt to the generator.
//
// The orchestrator is in Submitting when Submit returns nil; the returned channel yields the
// Result once the call resolves. A submission while one is already in flight is rejected with
// ErrBusy and makes no call. Snapshot failures do not reach the network: they resolve
// immediately into a Failed result.
func (o *Orchestrator) Submit(ctx context.Context, src Snapshotter, prompt string) (<-chan *Result, error) {
	o.mu.Lock()
	if o.state == Submitting {
		o.mu.Unlock()
		return nil, ErrBusy
	}

	done := make(chan *Result, 1)

	sketch, err := capture(src)
	if err != nil {
		res := failure(prompt, err)
		o.state = Failed
		o.result = res
		o.mu.Unlock()

		o.notify(Failed, res)
		done <- res
		close(done)
		return done, nil
	}

	o.state = Submitting
	o.result = nil
	o.mu.Unlock()
	o.notify(Submitting, nil)

	go func() {
		res := o.call(ctx, sketch, prompt)
		next := Success
		if res.Failed() {
			next = Failed
		}

		o.mu.Lock()
		o.state = next
		o.result = res
		o.mu.Unlock()

		o.notify(next, res)
		done <- res
		close(done)
	}()

	return done, nil
}

// Dismiss returns a finished orchestrator to Idle and drops its result.
// It does nothing while a submission is in flight.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	if o.state != Success && o.state != Failed {
		o.mu.Unlock()
		return
	}
	o.state = Idle
	o.result = nil
	o.mu.Unlock()
	o.notify(Idle, nil)
}

func (o *Orchestrator) call(ctx context.Context, sketch []byte, prompt string) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(prompt, fmt.Errorf("generation panicked: %v", r))
		}
	}()

	resp, err := o.gen.Generate(ctx, sketch, prompt)
	if err != nil {
		return failure(prompt, err)
	}
	return &Result{
		Prompt:   prompt,
		Image:    resp.ImageData,
		DataURL:  resp.DataURL(),
		Response: resp,
	}
}

func (o *Orchestrator) notify(state State, res *Result) {
	if o.callbacks != nil && o.callbacks.OnStateChanged != nil {
		o.callbacks.OnStateChanged(o, state, res)
	}
}

// capture runs under the orchestrator's lock, so a panicking surface becomes an error
func capture(src Snapshotter) (sketch []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			sketch, err = nil, fmt.Errorf("%w: snapshot panicked: %v", canvas.ErrNotReady, r)
		}
	}()

	if src == nil {
		return nil, canvas.ErrNotReady
	}
	if br, ok := src.(blankReporter); ok && br.IsBlank() {
		// an uninitialized canvas also reports blank; let Snapshot name that case
		if _, err := src.Snapshot(); err != nil {
			return nil, err
		}
		return nil, ErrEmptyCanvas
	}
	sketch, err = src.Snapshot()
	if err != nil {
		return nil, err
	}
	if len(sketch) == 0 {
		return nil, ErrEmptyCanvas
	}
	return sketch, nil
}

func failure(prompt string, err error) *Result {
	return &Result{Prompt: prompt, Err: err, Message: Describe(err)}
}
