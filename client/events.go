package client

import (
	"encoding/json"
)

const (
	EventTypeStarted   = "started"
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeFailed    = "failed"
)

// Event is one message on the service's /events stream
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (ev *Event) UnmarshalJSON(b []byte) error {
	// Unmarshal into an anonymous type to avoid infinite recursion
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	ev.Type = temp.Type

	// Determine the type of Data and unmarshal it accordingly
	switch ev.Type {
	case EventTypeStarted:
		ev.Data = &EventStarted{}
	case EventTypeProgress:
		ev.Data = &EventProgress{}
	case EventTypeCompleted:
		ev.Data = &EventCompleted{}
	case EventTypeFailed:
		ev.Data = &EventFailed{}
	default:
		ev.Data = nil
	}

	if ev.Data != nil && len(temp.Data) > 0 {
		if err := json.Unmarshal(temp.Data, ev.Data); err != nil {
			return err
		}
	}

	return nil
}

type EventStarted struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id,omitempty"`
	Prompt   string `json:"prompt"`
}

/*
{"type": "started", "data": {"id": "0b6f...", "client_id": "9a1c...", "prompt": "a red barn"}}
*/

type EventProgress struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
	Max   int    `json:"max"`
}

/*
{"type": "progress", "data": {"id": "0b6f...", "value": 3, "max": 20}}
*/

type EventCompleted struct {
	ID             string  `json:"id"`
	GenerationTime float64 `json:"generation_time"`
}

/*
{"type": "completed", "data": {"id": "0b6f...", "generation_time": 1.27}}
*/

type EventFailed struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

/*
{"type": "failed", "data": {"id": "0b6f...", "error": "Generation failed: out of memory"}}
*/

func (ev *Event) ToStarted() *EventStarted {
	return ev.Data.(*EventStarted)
}

func (ev *Event) ToProgress() *EventProgress {
	return ev.Data.(*EventProgress)
}

func (ev *Event) ToCompleted() *EventCompleted {
	return ev.Data.(*EventCompleted)
}

func (ev *Event) ToFailed() *EventFailed {
	return ev.Data.(*EventFailed)
}
