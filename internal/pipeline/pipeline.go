// Package pipeline holds the generation side of the service: the lifecycle of the loaded
// model, sketch preprocessing and the parameters every generation runs with.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"sync/atomic"
)

// ControlSize is the edge length of the conditioning image fed to the model
const ControlSize = 512

// Request carries everything one generation needs
type Request struct {
	Control        image.Image
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	ControlScale   float64
}

// ProgressFunc is called after each denoising step with the 1-based step and the total
type ProgressFunc func(step, total int)

// Pipeline is a loaded image generation model
type Pipeline interface {
	Name() string
	// Load prepares the model. It is called at most once per successful load.
	Load(ctx context.Context) error
	Generate(ctx context.Context, req Request, progress ProgressFunc) (image.Image, error)
}

// Options are the defaults applied to every request
type Options struct {
	Steps          int
	GuidanceScale  float64
	DefaultPrompt  string
	NegativePrompt string
}

// Output is a generated image with the request that produced it
type Output struct {
	Image   image.Image
	Request Request
}

var ErrNoSketch = errors.New("no sketch image provided")

// Manager loads a Pipeline lazily, caches it, and applies the default parameters.
// A failed load is not cached; the next request tries again.
type Manager struct {
	// loadMu serializes loads, genMu serializes generations. Loaded takes neither.
	loadMu   sync.Mutex
	genMu    sync.Mutex
	loaded   atomic.Bool
	pipeline Pipeline
	opts     Options
}

func NewManager(p Pipeline, opts Options) *Manager {
	if opts.Steps < 1 {
		opts.Steps = 20
	}
	if opts.GuidanceScale == 0 {
		opts.GuidanceScale = 7.5
	}
	return &Manager{pipeline: p, opts: opts}
}

// Name returns the name of the managed pipeline
func (m *Manager) Name() string {
	return m.pipeline.Name()
}

// Loaded reports whether the model is ready. It never waits on a load or a generation.
func (m *Manager) Loaded() bool {
	return m.loaded.Load()
}

// Load loads the model unless it is already loaded
func (m *Manager) Load(ctx context.Context) error {
	if m.loaded.Load() {
		return nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if m.loaded.Load() {
		return nil
	}
	log.Printf("[pipeline] loading %s", m.pipeline.Name())
	if err := m.pipeline.Load(ctx); err != nil {
		return fmt.Errorf("load %s: %w", m.pipeline.Name(), err)
	}
	m.loaded.Store(true)
	log.Printf("[pipeline] %s loaded", m.pipeline.Name())
	return nil
}

// Generate preprocesses the sketch and runs the model with the manager's defaults.
// An empty prompt is replaced by the default prompt. Generations are serialized: the model is
// a single shared resource.
func (m *Manager) Generate(ctx context.Context, sketch image.Image, prompt string, progress ProgressFunc) (*Output, error) {
	if sketch == nil {
		return nil, ErrNoSketch
	}

	m.genMu.Lock()
	defer m.genMu.Unlock()

	if err := m.Load(ctx); err != nil {
		return nil, err
	}

	req := m.request(Preprocess(sketch), prompt)
	if progress == nil {
		progress = func(int, int) {}
	}

	img, err := m.pipeline.Generate(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	return &Output{Image: img, Request: req}, nil
}

func (m *Manager) request(control image.Image, prompt string) Request {
	if strings.TrimSpace(prompt) == "" {
		prompt = m.opts.DefaultPrompt
	}
	return Request{
		Control:        control,
		Prompt:         prompt,
		NegativePrompt: m.opts.NegativePrompt,
		Steps:          m.opts.Steps,
		GuidanceScale:  m.opts.GuidanceScale,
		ControlScale:   1.0,
	}
}
