package client

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

type WebSocketConnection struct {
	WebSocketURL   string
	Conn           *websocket.Conn
	ConnectionDone chan bool
	MaxRetry       int
	RetryCount     int
	mu             sync.Mutex // guards Conn and isConnected
	isConnected    bool
	Callback       WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer
}

// NewWebSocketConnection creates a connection with sensible retry defaults
func NewWebSocketConnection(wsURL string, callback WebSocketCallback) *WebSocketConnection {
	return &WebSocketConnection{
		WebSocketURL:   wsURL,
		ConnectionDone: make(chan bool, 1),
		MaxRetry:       5,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Callback:       callback,
		Dialer:         *websocket.DefaultDialer,
	}
}

// ConnectWithManager connects to the WebSocket using a connection manager.
// timeout is the maximum time to wait for a successful connection; zero or less waits until
// the retries are exhausted.
func (w *WebSocketConnection) ConnectWithManager(timeout time.Duration) error {
	// Channel to signal the outcome of the connection attempts
	connected := make(chan error, 1)
	// Channel for connection attempts (ensures connect() is not called concurrently)
	attemptConnect := make(chan bool, 1)
	attemptConnect <- true // Trigger the first connection attempt immediately

	go func() {
		retries := 0
		for {
			<-attemptConnect
			err := w.connect()
			if err != nil {
				logger().Error("Connection attempt failed: ", "error", err)

				// Check if the maximum number of retries has been reached
				retries++
				if retries > w.MaxRetry {
					connected <- fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, err)
					return
				}

				// Wait a bit before retrying to connect
				time.AfterFunc(w.getReconnectDelay(), func() {
					attemptConnect <- true
				})
				continue
			}
			connected <- nil
			w.handleMessages()
			return
		}
	}()

	if timeout > 0 {
		select {
		case err := <-connected:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("connection timeout after %v", timeout)
		}
	}
	return <-connected
}

func (w *WebSocketConnection) connect() error {
	conn, _, err := w.Dialer.Dial(w.WebSocketURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.Conn = conn
	w.isConnected = true
	w.mu.Unlock()
	return nil
}

// IsConnected reports whether the socket is currently open
func (w *WebSocketConnection) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isConnected
}

func (w *WebSocketConnection) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return websocket.ErrCloseSent
	}
	return w.Conn.WriteMessage(websocket.PingMessage, nil)
}

// Close closes the socket, which ends the read loop
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return nil
	}
	_ = w.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.Conn.Close()
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages() {
	defer func() {
		w.mu.Lock()
		w.isConnected = false
		w.Conn.Close()
		w.mu.Unlock()
		w.ConnectionDone <- true
	}()
	for {
		_, message, err := w.Conn.ReadMessage()
		if err != nil {
			logger().Debug(fmt.Sprintf("Read error: %v", err))
			break
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++ // Increment the retry counter for the next attempt
	return delay
}
