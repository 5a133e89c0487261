package client

import (
	"context"
	"time"
)

// EventHandlers defines optional callback functions for the events on the service's /events stream.
// All handlers are optional - only provide handlers for the events you care about.
type EventHandlers struct {
	// OnStarted is called when the service begins a generation
	OnStarted func(*EventStarted)

	// OnProgress is called for every denoising step
	OnProgress func(*EventProgress)

	// OnCompleted is called when a generation produced an image
	OnCompleted func(*EventCompleted)

	// OnFailed is called when a generation failed on the service side
	OnFailed func(*EventFailed)

	// OnComplete is called after the stream ends, regardless of why
	OnComplete func()
}

// DefaultEventHandlers returns EventHandlers that log started, completed and failed events.
// Progress is not logged; add your own handler (e.g. a progress bar) if needed.
func DefaultEventHandlers() *EventHandlers {
	return &EventHandlers{
		OnStarted: func(ev *EventStarted) {
			logger().Info("Generation started", "id", ev.ID, "prompt", ev.Prompt)
		},
		OnCompleted: func(ev *EventCompleted) {
			logger().Info("Generation completed", "id", ev.ID, "seconds", ev.GenerationTime)
		},
		OnFailed: func(ev *EventFailed) {
			logger().Error("Generation failed", "id", ev.ID, "error", ev.Error)
		},
	}
}

// WithStartedHandler adds a started handler (builder pattern)
func (h *EventHandlers) WithStartedHandler(fn func(*EventStarted)) *EventHandlers {
	h.OnStarted = fn
	return h
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *EventHandlers) WithProgressHandler(fn func(*EventProgress)) *EventHandlers {
	h.OnProgress = fn
	return h
}

// WithCompletedHandler adds a completed handler (builder pattern)
func (h *EventHandlers) WithCompletedHandler(fn func(*EventCompleted)) *EventHandlers {
	h.OnCompleted = fn
	return h
}

// WithFailedHandler adds a failed handler (builder pattern)
func (h *EventHandlers) WithFailedHandler(fn func(*EventFailed)) *EventHandlers {
	h.OnFailed = fn
	return h
}

// WithCompleteHandler adds a stream-closed handler (builder pattern)
func (h *EventHandlers) WithCompleteHandler(fn func()) *EventHandlers {
	h.OnComplete = fn
	return h
}

// Dispatch routes one event to the matching handler
func (h *EventHandlers) Dispatch(ev *Event) {
	if h == nil || ev == nil || ev.Data == nil {
		return
	}
	switch ev.Type {
	case EventTypeStarted:
		if h.OnStarted != nil {
			h.OnStarted(ev.ToStarted())
		}
	case EventTypeProgress:
		if h.OnProgress != nil {
			h.OnProgress(ev.ToProgress())
		}
	case EventTypeCompleted:
		if h.OnCompleted != nil {
			h.OnCompleted(ev.ToCompleted())
		}
	case EventTypeFailed:
		if h.OnFailed != nil {
			h.OnFailed(ev.ToFailed())
		}
	}
}

// eventsPingInterval is how often FollowEvents pings an idle event stream
var eventsPingInterval = 30 * time.Second

type eventDispatcher struct {
	c        *Client
	handlers *EventHandlers
}

func (d *eventDispatcher) OnMessage(message string) {
	d.handlers.Dispatch(d.c.OnEventMessage(message))
}

// FollowEvents connects to the service's event stream and dispatches events to handlers.
// It blocks until ctx is done or the service closes the stream. connectTimeout bounds the
// initial connection; zero waits for the retry budget to run out.
func (c *Client) FollowEvents(ctx context.Context, handlers *EventHandlers, connectTimeout time.Duration) error {
	if handlers == nil {
		handlers = &EventHandlers{}
	}
	if handlers.OnComplete != nil {
		defer handlers.OnComplete()
	}

	wsURL, err := c.eventsURL()
	if err != nil {
		return err
	}

	conn := NewWebSocketConnection(wsURL, &eventDispatcher{c: c, handlers: handlers})
	if err := conn.ConnectWithManager(connectTimeout); err != nil {
		return err
	}

	keepalive := time.NewTicker(eventsPingInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-conn.ConnectionDone
			return nil
		case <-conn.ConnectionDone:
			return nil
		case <-keepalive.C:
			if !conn.IsConnected() {
				continue
			}
			if err := conn.Ping(); err != nil {
				logger().Debug("events keepalive failed", "error", err)
			}
		}
	}
}
