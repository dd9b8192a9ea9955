// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dsumanth/coach-me-sub008/remote"
)

var (
	// ErrNotFound is returned when neither the remote store nor the replica has the record.
	ErrNotFound = errors.New("coachsync: not found")

	// ErrRemoteUnavailable wraps network, timeout and server-side failures.
	// It is never surfaced on its own: reads fall back to the replica and writes are queued.
	ErrRemoteUnavailable = errors.New("coachsync: remote unavailable")

	// ErrUnauthenticated means the remote refused the session (no token, expired or revoked).
	// Queued writes wait for a new session instead of being dropped.
	ErrUnauthenticated = errors.New("coachsync: not authenticated")
)

// CacheError reports a local persistence failure. Repository paths log and swallow it.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache %s: %v", e.Op, e.Err) }

func (e *CacheError) Unwrap() error { return e.Err }

func cacheErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CacheError{Op: op, Err: err}
}

// RemoteError is a rejection by the remote store (4xx other than 404/409).
// 401 and 403 are session problems and hold the queue; the rest are permanent.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote rejected request: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// isTransient reports failures that should stop a drain and keep the queue intact.
func isTransient(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// isAuthFailure reports a refused session. Like transient failures it stops a drain.
func isAuthFailure(err error) bool {
	if errors.Is(err, ErrUnauthenticated) {
		return true
	}
	var rerr *RemoteError
	return errors.As(err, &rerr) &&
		(rerr.StatusCode == http.StatusUnauthorized || rerr.StatusCode == http.StatusForbidden)
}

// holdsQueue reports failures after which an operation stays queued for the next drain
func holdsQueue(err error) bool { return isTransient(err) || isAuthFailure(err) }

// isRemoteNotFound matches both the client-side and store-side not-found sentinels.
func isRemoteNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, remote.ErrNotFound)
}
