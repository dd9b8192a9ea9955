// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type principalKey struct{}

// Principal is the authenticated caller: the signed-in user and the device holding its replica
type Principal struct {
	UserID   string
	DeviceID string
}

// Valid reports whether the principal names a user
func (p Principal) Valid() bool { return p.UserID != "" }

// Owns reports whether ownerID is the principal's own partition
func (p Principal) Owns(ownerID string) bool { return p.Valid() && p.UserID == ownerID }

// WithPrincipal attaches the caller to ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the caller attached by WithPrincipal
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Valid()
}

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) (string, bool) {
	p, ok := FromContext(ctx)
	return p.UserID, ok
}

// GetDeviceID retrieves the device ID from the context
func GetDeviceID(ctx context.Context) (string, bool) {
	p, ok := FromContext(ctx)
	return p.DeviceID, ok && p.DeviceID != ""
}
