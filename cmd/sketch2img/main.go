package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/richinsley/sketch2go/client"
	"github.com/richinsley/sketch2go/orchestrator"
	"github.com/richinsley/sketch2go/studio"
)

type options struct {
	server   string
	prompt   string
	strokes  string
	output   string
	timeout  time.Duration
	progress bool
}

// process CLI arguments
func procCLI() options {
	opts := options{}
	flag.StringVar(&opts.server, "server", "http://localhost:8000", "Generation service base URL")
	flag.StringVar(&opts.prompt, "prompt", "", "Prompt sent with the sketch")
	flag.StringVar(&opts.strokes, "strokes", "", "Path to a TOML stroke script (default draws a house)")
	flag.StringVar(&opts.output, "out", "generated.png", "Where to write the generated image")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Request timeout, 0 for none")
	flag.BoolVar(&opts.progress, "progress", true, "Show a progress bar from the service's event stream")
	configPath := flag.String("config", "", "Path to a TOML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Printf("  %s [OPTIONS]", os.Args[0])
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			log.Println("Error loading config:", err)
			os.Exit(1)
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		opts.merge(cfg, set)
	}
	return opts
}

// merge fills the options from cfg, except those given explicitly on the command line
func (o *options) merge(cfg *fileConfig, set map[string]bool) {
	if cfg.Server != "" && !set["server"] {
		o.server = cfg.Server
	}
	if cfg.Prompt != "" && !set["prompt"] {
		o.prompt = cfg.Prompt
	}
	if cfg.Output != "" && !set["out"] {
		o.output = cfg.Output
	}
	if cfg.Timeout > 0 && !set["timeout"] {
		o.timeout = cfg.Timeout
	}
}

func main() {
	opts := procCLI()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	script := defaultScript()
	if opts.strokes != "" {
		var err error
		script, err = loadStrokes(opts.strokes)
		if err != nil {
			log.Println("Error loading strokes:", err)
			os.Exit(1)
		}
	}
	prompt := opts.prompt
	if prompt == "" {
		prompt = script.Prompt
	}

	callbacks := &client.ClientCallbacks{
		GenerationFailed: func(c *client.Client, ev *client.EventFailed) {
			log.Printf("Client %s: generation %s failed: %s", c.ClientID(), ev.ID, ev.Error)
		},
	}

	// create a client
	c := client.NewClientWithTimeout(opts.server, callbacks, opts.timeout)

	health, err := c.GetHealth(ctx)
	if err != nil {
		log.Println("Error reaching the generation service:", err)
		os.Exit(1)
	}
	log.Printf("Connected to %s (pipeline %s, %s)", c.BaseURL(), health.Pipeline, health.GPUType)

	if opts.progress {
		go followProgress(ctx, c)
	}

	// the studio renders a frame after every event; we only care about the final one
	finished := make(chan studio.Frame, 1)
	st := studio.New(c, studio.WithRenderer(func(f studio.Frame) {
		if f.State == orchestrator.Success || f.State == orchestrator.Failed {
			select {
			case finished <- f:
			default:
			}
		}
	}))
	go st.Run(ctx)

	events := append([]studio.Event{studio.SetPrompt{Prompt: prompt}}, script.events()...)
	events = append(events, studio.Submit{})
	for _, ev := range events {
		if err := st.Post(ev); err != nil {
			log.Println("Error drawing sketch:", err)
			os.Exit(1)
		}
	}

	var frame studio.Frame
	select {
	case frame = <-finished:
	case <-ctx.Done():
		log.Println("Interrupted")
		os.Exit(1)
	}

	if frame.State == orchestrator.Failed {
		log.Println(frame.View.Message)
		os.Exit(1)
	}

	res := frame.Result
	if err := os.WriteFile(opts.output, res.Image, 0o644); err != nil {
		log.Println("Failed to write image:", err)
		os.Exit(1)
	}
	log.Printf("Wrote %s (%v, %.2fs)", opts.output, res.Response.ImageSize, res.Response.GenerationTime)

	meta, err := res.Response.Metadata()
	if err != nil {
		log.Println("Failed to read image metadata:", err)
		return
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %s\n", k, meta[k])
	}
}

// followProgress renders this client's generation progress from the event stream
func followProgress(ctx context.Context, c *client.Client) {
	var bar *progressbar.ProgressBar
	var current string

	handlers := (&client.EventHandlers{}).
		WithStartedHandler(func(ev *client.EventStarted) {
			if ev.ClientID != c.ClientID() {
				return
			}
			current = ev.ID
			bar = nil
		}).
		WithProgressHandler(func(ev *client.EventProgress) {
			if ev.ID != current {
				return
			}
			if bar == nil {
				bar = progressbar.Default(int64(ev.Max), "generating")
			}
			bar.Set(ev.Value)
		}).
		WithCompletedHandler(func(ev *client.EventCompleted) {
			if ev.ID == current && bar != nil {
				bar.Finish()
			}
		})

	if err := c.FollowEvents(ctx, handlers, 5*time.Second); err != nil {
		log.Println("Progress unavailable:", err)
	}
}
