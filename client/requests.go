package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

/*
GET  /
GET  /health
GET  /models/status
GET  /events        (websocket)
POST /generate
*/

// GetServiceInfo retrieves the service banner and its endpoint list
func (c *Client) GetServiceInfo(ctx context.Context) (*ServiceInfo, error) {
	retv := &ServiceInfo{}
	if err := c.getJSON(ctx, "/", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetHealth retrieves the detailed health status of the service
func (c *Client) GetHealth(ctx context.Context) (*HealthStatus, error) {
	retv := &HealthStatus{}
	if err := c.getJSON(ctx, "/health", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetModelStatus reports whether the service has loaded its models yet.
// The first generation on a cold service is slow; callers can use this to show it.
func (c *Client) GetModelStatus(ctx context.Context) (*ModelStatus, error) {
	retv := &ModelStatus{}
	if err := c.getJSON(ctx, "/models/status", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(ClientIDHeader, c.clientid)

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ServerError{StatusCode: resp.StatusCode}
	}

	if err = json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
