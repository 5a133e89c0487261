package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClientIDHeader carries the client's unique id on every request
const ClientIDHeader = "X-Client-ID"

type ClientCallbacks struct {
	GenerationStarted   func(*Client, *EventStarted)
	GenerationProgress  func(*Client, *EventProgress)
	GenerationCompleted func(*Client, *EventCompleted)
	GenerationFailed    func(*Client, *EventFailed)
}

// Client is the top level object that allows for interaction with the sketch generation service
type Client struct {
	baseURL    string
	clientid   string
	callbacks  *ClientCallbacks
	timeout    time.Duration
	httpclient *http.Client
}

// NewClientWithTimeout creates a new Client whose requests are bounded by timeout
func NewClientWithTimeout(baseURL string, callbacks *ClientCallbacks, timeout time.Duration) *Client {
	retv := NewClient(baseURL, callbacks)
	retv.timeout = timeout
	retv.httpclient = &http.Client{Timeout: timeout}
	return retv
}

// NewClient creates a new Client for the service at baseURL, e.g. "http://localhost:8000".
// Requests are not bounded by a client side timeout.
func NewClient(baseURL string, callbacks *ClientCallbacks) *Client {
	retv := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientid:   uuid.New().String(),
		callbacks:  callbacks,
		timeout:    0,
		httpclient: &http.Client{},
	}
	return retv
}

// ClientID returns the unique client ID sent to the service
func (c *Client) ClientID() string {
	return c.clientid
}

// BaseURL returns the service address the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// return the underlying http client
func (c *Client) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// eventsURL maps the service base address onto its websocket event endpoint
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	q := u.Query()
	q.Set("clientId", c.clientid)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OnEventMessage processes each message received from the event stream.
// The message is parsed, the matching client callback is invoked and the typed event is returned.
func (c *Client) OnEventMessage(msg string) *Event {
	message := &Event{}
	err := json.Unmarshal([]byte(msg), &message)
	if err != nil {
		logger().Error("Deserializing event message:", "error", err)
		return nil
	}

	switch message.Type {
	case EventTypeStarted:
		s := message.Data.(*EventStarted)
		if c.callbacks != nil && c.callbacks.GenerationStarted != nil {
			c.callbacks.GenerationStarted(c, s)
		}
	case EventTypeProgress:
		s := message.Data.(*EventProgress)
		if c.callbacks != nil && c.callbacks.GenerationProgress != nil {
			c.callbacks.GenerationProgress(c, s)
		}
	case EventTypeCompleted:
		s := message.Data.(*EventCompleted)
		if c.callbacks != nil && c.callbacks.GenerationCompleted != nil {
			c.callbacks.GenerationCompleted(c, s)
		}
	case EventTypeFailed:
		s := message.Data.(*EventFailed)
		if c.callbacks != nil && c.callbacks.GenerationFailed != nil {
			c.callbacks.GenerationFailed(c, s)
		}
	default:
		logger().Warn("Unhandled message type: ", "type", message.Type)
	}
	return message
}
