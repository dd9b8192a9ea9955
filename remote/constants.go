// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

// Entity collections exposed by the remote store
const (
	CollectionProfiles      = "profiles"
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
)

// Error codes carried in ErrorResponse.Error
const (
	CodeMethodNotAllowed = "method_not_allowed"
	CodeAuthFailed       = "authentication_failed"
	CodeForbidden        = "forbidden"
	CodeInvalidRequest   = "invalid_request"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeInternal         = "internal_error"
)

// Service health values reported by /status
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// APIVersion is reported by /status.
const APIVersion = "v1"
