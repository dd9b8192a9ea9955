// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
)

// TokenFunc returns the bearer token presented to the remote store
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken always presents the same token
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

// JWTTokenSource mints tokens with auth and reuses each one until shortly before it expires
func JWTTokenSource(auth *remote.JWTAuth, userID, deviceID string, ttl time.Duration) TokenFunc {
	var mu sync.Mutex
	var token string
	var expires time.Time
	return func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" && time.Until(expires) > ttl/10 {
			return token, nil
		}
		t, err := auth.GenerateToken(userID, deviceID, ttl)
		if err != nil {
			return "", fmt.Errorf("failed to mint token: %w", err)
		}
		token, expires = t, time.Now().Add(ttl)
		return token, nil
	}
}

// HTTPRemote is a RemoteStore speaking the remote package's REST API.
// The owner is taken from the bearer token; ownerID arguments only build profile paths.
type HTTPRemote struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenFunc
}

var _ RemoteStore = (*HTTPRemote)(nil)

// NewHTTPRemote creates a client for the server at baseURL
func NewHTTPRemote(baseURL string, token TokenFunc) *HTTPRemote {
	return &HTTPRemote{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Token:      token,
	}
}

func (c *HTTPRemote) GetProfile(ctx context.Context, ownerID string) (*remote.Record, error) {
	var rec remote.Record
	if err := c.do(ctx, http.MethodGet, "/v1/profiles/"+url.PathEscape(ownerID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPRemote) PutProfile(ctx context.Context, ownerID string, payload json.RawMessage, base *time.Time) (*remote.Record, error) {
	var rec remote.Record
	req := remote.PutProfileRequest{Payload: payload, BaseUpdatedAt: base}
	if err := c.do(ctx, http.MethodPut, "/v1/profiles/"+url.PathEscape(ownerID), req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPRemote) ListConversations(ctx context.Context, ownerID string) ([]remote.Record, error) {
	var resp remote.ListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *HTTPRemote) ListMessages(ctx context.Context, ownerID, conversationID string) ([]remote.Record, error) {
	var resp remote.ListResponse
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *HTTPRemote) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/conversations/"+url.PathEscape(conversationID), nil, nil)
}

func (c *HTTPRemote) DeleteAllConversations(ctx context.Context, ownerID string) (int, error) {
	var resp remote.DeleteResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/conversations", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// do sends one request and maps the response onto the client error taxonomy
func (c *HTTPRemote) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %w", ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: failed to decode %s %s response: %w", ErrRemoteUnavailable, method, path, err)
		}
		return nil
	}

	var errResp remote.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(raw, &errResp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Message)
	case resp.StatusCode == http.StatusConflict:
		return &remote.ConflictError{Current: errResp.Current}
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s %s returned %d", ErrRemoteUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthenticated,
			&RemoteError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: errResp.Message})
	default:
		return &RemoteError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: errResp.Message}
	}
}
