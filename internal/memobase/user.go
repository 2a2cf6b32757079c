package memobase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Message is one chat line as the service ingests it. Replayed benchmark
// turns always use the "user" role; the original speaker rides along in
// Alias and the session timestamp in CreatedAt.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Alias     string `json:"alias,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ChatBlob is the unit of insertion: one ordered batch of messages.
type ChatBlob struct {
	Messages []Message `json:"messages"`
}

type insertRequest struct {
	BlobType string   `json:"blob_type"`
	BlobData ChatBlob `json:"blob_data"`
}

type insertResponse struct {
	ID string `json:"id"`
}

// User is a handle to one remote user, scoped to the client that made it.
type User struct {
	ID     string
	client *Client
}

// Insert uploads one batch of chat messages into the user's buffer and
// returns the service's opaque blob ID.
func (u *User) Insert(ctx context.Context, blob ChatBlob) (string, error) {
	data, err := u.client.do(ctx, http.MethodPost, "/blobs/insert/"+u.ID, insertRequest{
		BlobType: "chat",
		BlobData: blob,
	})
	if err != nil {
		return "", fmt.Errorf("insert blob: %w", err)
	}

	var resp insertResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal insert response: %w", err)
	}
	return resp.ID, nil
}

// Flush tells the service to process everything buffered for the user.
// Profile extraction happens server-side during the flush, so this can be
// slow on large buffers.
func (u *User) Flush(ctx context.Context) error {
	_, err := u.client.do(ctx, http.MethodPost, "/users/buffer/"+u.ID+"/chat", nil)
	return err
}

// Profile fetches the computed profile for the user as raw JSON.
func (u *User) Profile(ctx context.Context) (json.RawMessage, error) {
	data, err := u.client.do(ctx, http.MethodGet, "/users/profile/"+u.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return data, nil
}
