// Package memobase is a minimal client for the Memobase HTTP API, covering
// the operations the replay tool needs: user lifecycle, chat blob inserts,
// buffer flushes, profile reads, and project config updates.
package memobase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to one Memobase project. It is stateless apart from the
// underlying http.Client and safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient builds a client for the project at projectURL. The API prefix
// is appended here so callers pass the bare project URL from config.
func NewClient(projectURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(projectURL, "/") + "/api/v1",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// envelope is the wrapper every API response uses.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errno  int             `json:"errno"`
	Errmsg string          `json:"errmsg"`
}

// ServerError is a failure reported by the service itself — an HTTP error
// status or a non-zero errno in the envelope — as opposed to a transport
// failure reaching the service at all.
type ServerError struct {
	Status int
	Errno  int
	Msg    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("memobase error %d (errno %d): %s", e.Status, e.Errno, e.Msg)
}

// do issues one API call and returns the envelope's data payload.
func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &ServerError{Status: resp.StatusCode, Msg: string(respBody)}
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || env.Errno != 0 {
		return nil, &ServerError{Status: resp.StatusCode, Errno: env.Errno, Msg: env.Errmsg}
	}
	return env.Data, nil
}

// Ping checks that the service is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthcheck", nil)
	return err
}

type createUserRequest struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// GetOrCreateUser returns a handle to the user with the given ID, creating
// it when the service reports it missing. Transport errors propagate
// without a create attempt.
func (c *Client) GetOrCreateUser(ctx context.Context, id string) (*User, error) {
	if _, err := c.do(ctx, http.MethodGet, "/users/"+id, nil); err != nil {
		var serr *ServerError
		if !errors.As(err, &serr) {
			return nil, fmt.Errorf("get user %s: %w", id, err)
		}
		if _, err := c.do(ctx, http.MethodPost, "/users", createUserRequest{ID: id, Data: map[string]any{}}); err != nil {
			return nil, fmt.Errorf("create user %s: %w", id, err)
		}
	}
	return &User{ID: id, client: c}, nil
}

// DeleteUser removes the user and everything the service stored for it.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/users/"+id, nil)
	return err
}

type updateConfigRequest struct {
	ProfileConfig string `json:"profile_config"`
}

// UpdateConfig pushes the project-level profile configuration blob.
func (c *Client) UpdateConfig(ctx context.Context, blob string) error {
	_, err := c.do(ctx, http.MethodPost, "/project/profile_config", updateConfigRequest{ProfileConfig: blob})
	return err
}
