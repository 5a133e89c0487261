package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/richinsley/sketch2go/canvas"
	"github.com/richinsley/sketch2go/studio"
)

// fileConfig is the optional TOML config passed with -config. Flags given on the command line win.
type fileConfig struct {
	Server  string        `toml:"server"`
	Prompt  string        `toml:"prompt"`
	Output  string        `toml:"output"`
	Timeout time.Duration `toml:"timeout"`
}

func loadConfig(path string) (*fileConfig, error) {
	var cfg fileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return &cfg, nil
}

// strokeScript is a drawing replayed onto the canvas:
//
//	prompt = "a small house"
//
//	[[stroke]]
//	points = [{x = 10.0, y = 10.0}, {x = 50.0, y = 50.0}]
//
//	[[stroke]]
//	clear = true
//	points = [{x = 100.0, y = 100.0}, {x = 120.0, y = 100.0}]
type strokeScript struct {
	Prompt  string   `toml:"prompt"`
	Strokes []stroke `toml:"stroke"`
}

type stroke struct {
	// Clear wipes the canvas before this stroke is drawn
	Clear  bool           `toml:"clear"`
	Points []canvas.Point `toml:"points"`
}

func loadStrokes(path string) (*strokeScript, error) {
	var script strokeScript
	md, err := toml.DecodeFile(path, &script)
	if err != nil {
		return nil, fmt.Errorf("reading strokes %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("reading strokes %s: unknown keys %v", path, undecoded)
	}
	return &script, nil
}

// defaultScript draws a simple house when no stroke script is given
func defaultScript() *strokeScript {
	return &strokeScript{
		Strokes: []stroke{
			{Points: []canvas.Point{{X: 156, Y: 420}, {X: 156, Y: 240}, {X: 356, Y: 240}, {X: 356, Y: 420}, {X: 156, Y: 420}}},
			{Points: []canvas.Point{{X: 136, Y: 250}, {X: 256, Y: 120}, {X: 376, Y: 250}}},
			{Points: []canvas.Point{{X: 230, Y: 420}, {X: 230, Y: 330}, {X: 282, Y: 330}, {X: 282, Y: 420}}},
			{Points: []canvas.Point{{X: 20, Y: 420}, {X: 492, Y: 420}}},
		},
	}
}

// events turns the script into the pointer events a user drawing it would produce
func (s *strokeScript) events() []studio.Event {
	var evs []studio.Event
	for _, st := range s.Strokes {
		if st.Clear {
			evs = append(evs, studio.ClearCanvas{})
		}
		if len(st.Points) == 0 {
			continue
		}
		evs = append(evs, studio.PointerDown{Point: st.Points[0]})
		for _, p := range st.Points[1:] {
			evs = append(evs, studio.PointerMove{Point: p})
		}
		evs = append(evs, studio.PointerUp{})
	}
	return evs
}
