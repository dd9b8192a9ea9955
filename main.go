// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("coachsync - offline-first sync for coaching profiles and conversations")
	fmt.Println("=======================================================================")
	fmt.Println()
	fmt.Println("Reads are served from a local SQLite replica, writes made while offline are")
	fmt.Println("queued durably and replayed on reconnect with conflict resolution.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("1. coachsync/  Replica, pending queue, resolver and Repository (client side)")
	fmt.Println("2. remote/     Remote store: Postgres and in-memory backends, HTTP API, JWT auth")
	fmt.Println()

	fmt.Println("Command line (cmd/coachsync/):")
	fmt.Println("   go run ./cmd/coachsync serve --memory   # remote store on :8080")
	fmt.Println("   go run ./cmd/coachsync token --user u1  # mint a bearer token")
	fmt.Println("   go run ./cmd/coachsync status           # replica queue and conflicts\n   go run ./cmd/coachsync status --json    # replica rows as JSON lines")
	fmt.Println("   go run ./cmd/coachsync drain            # replay queued writes once")
	fmt.Println("   go run ./cmd/coachsync sync             # drain on every reconnect")
	fmt.Println()
}
