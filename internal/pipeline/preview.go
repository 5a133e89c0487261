package pipeline

import (
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"time"
)

// Preview is a deterministic stand-in for a diffusion model. It walks the requested number of
// steps and colors the control map with a palette derived from the prompt, which is enough to
// exercise the whole request path without a GPU.
type Preview struct {
	// StepDelay is slept on every step to imitate inference time
	StepDelay time.Duration
}

func NewPreview(stepDelay time.Duration) *Preview {
	return &Preview{StepDelay: stepDelay}
}

func (p *Preview) Name() string {
	return "preview"
}

func (p *Preview) Load(ctx context.Context) error {
	return ctx.Err()
}

func (p *Preview) Generate(ctx context.Context, req Request, progress ProgressFunc) (image.Image, error) {
	for step := 1; step <= req.Steps; step++ {
		if p.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.StepDelay):
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(step, req.Steps)
	}

	ink, paper := palette(req.Prompt)
	b := req.Control.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(req.Control.At(x, y)).(color.Gray).Y
			out.SetRGBA(x, y, mix(paper, ink, g))
		}
	}
	return out, nil
}

// palette derives a dark ink and a light paper color from the prompt
func palette(prompt string) (ink, paper color.RGBA) {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := h.Sum32()
	r, g, b := uint8(sum), uint8(sum>>8), uint8(sum>>16)
	ink = color.RGBA{r / 3, g / 3, b / 3, 255}
	paper = color.RGBA{191 + r/4, 191 + g/4, 191 + b/4, 255}
	return ink, paper
}

// mix blends from a to b by t/255
func mix(a, b color.RGBA, t uint8) color.RGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8((int(x)*(255-int(t)) + int(y)*int(t)) / 255)
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}
