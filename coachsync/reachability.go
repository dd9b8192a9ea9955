// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
)

// Reachability is the connectivity observable consumed by the repository
type Reachability interface {
	Connected() bool
	// Subscribe delivers every change of the connected state. The returned
	// function unsubscribes and closes the channel.
	Subscribe() (<-chan bool, func())
}

// Signal is a settable Reachability. The zero value is disconnected.
type Signal struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	subs      map[int]chan bool
}

var _ Reachability = (*Signal)(nil)

// NewSignal creates a signal with the given initial state
func NewSignal(connected bool) *Signal {
	return &Signal{connected: connected}
}

func (s *Signal) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Set updates the state and notifies subscribers when it changed.
// Slow subscribers lose their oldest pending notification, never the newest.
func (s *Signal) Set(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == connected {
		return
	}
	s.connected = connected
	for _, ch := range s.subs {
		select {
		case ch <- connected:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- connected:
			default:
			}
		}
	}
}

func (s *Signal) Subscribe() (<-chan bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan bool)
	}
	id := s.nextID
	s.nextID++
	ch := make(chan bool, 4)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// StatusProber drives a Signal by polling the remote /status endpoint
type StatusProber struct {
	BaseURL    string
	HTTPClient *http.Client
	Interval   time.Duration
	Signal     *Signal
	Logger     *slog.Logger
}

// Probe performs one status check and updates the signal
func (p *StatusProber) Probe(ctx context.Context) bool {
	ok := p.check(ctx) == nil
	p.Signal.Set(ok)
	return ok
}

func (p *StatusProber) check(ctx context.Context) error {
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	var status remote.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}
	if status.Status != remote.StatusHealthy {
		return fmt.Errorf("remote reports %q", status.Status)
	}
	return nil
}

// Run probes immediately and then every Interval until ctx is done
func (p *StatusProber) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		before := p.Signal.Connected()
		if err := p.check(ctx); err != nil {
			if before {
				logger.Info("Remote became unreachable", "url", p.BaseURL, "error", err)
			}
			p.Signal.Set(false)
		} else {
			if !before {
				logger.Info("Remote reachable", "url", p.BaseURL)
			}
			p.Signal.Set(true)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
