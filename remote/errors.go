// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested record does not exist for the owner.
var ErrNotFound = errors.New("record not found")

// ConflictError reports that a conditional write lost against a newer server version.
type ConflictError struct {
	Current *Record
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return "conflict: record changed on server"
	}
	return fmt.Sprintf("conflict: %s changed on server at %s", e.Current.ID, e.Current.UpdatedAt.Format("2006-01-02T15:04:05.000000Z07:00"))
}
