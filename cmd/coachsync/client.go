// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsumanth/coach-me-sub008/coachsync"
	"github.com/dsumanth/coach-me-sub008/remote"
)

// clientSession bundles the replica and repository used by client-side commands
type clientSession struct {
	replica  *coachsync.Replica
	repo     *coachsync.Repository
	signal   *coachsync.Signal
	prober   *coachsync.StatusProber
	deviceID string
}

func (s *clientSession) Close() error { return s.replica.Close() }

func openClient(ctx context.Context) (*clientSession, error) {
	cc := cfg.Client
	if cc.UserID == "" {
		return nil, errors.New("client.user_id is required (or set COACHSYNC_USER_ID)")
	}

	replica, err := coachsync.OpenReplica(cc.ReplicaPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica %s: %w", cc.ReplicaPath, err)
	}
	deviceID, err := replica.EnsureDeviceID(ctx, cc.UserID)
	if err != nil {
		replica.Close()
		return nil, err
	}

	token := coachsync.StaticToken(cc.Token)
	if cc.Token == "" {
		token = coachsync.JWTTokenSource(remote.NewJWTAuth(cfg.Server.JWTSecret), cc.UserID, deviceID, cc.TokenTTL)
	}

	signal := coachsync.NewSignal(false)
	repoConfig := coachsync.DefaultConfig()
	repoConfig.Logger = logger
	repoConfig.RemoteTimeout = cc.RemoteTimeout
	repoConfig.LogStageTimings = true

	repo, err := coachsync.NewRepository(cc.UserID, replica, coachsync.NewHTTPRemote(cc.ServerURL, token), signal, repoConfig)
	if err != nil {
		replica.Close()
		return nil, err
	}

	return &clientSession{
		replica:  replica,
		repo:     repo,
		signal:   signal,
		prober:   &coachsync.StatusProber{BaseURL: cc.ServerURL, Signal: signal, Logger: logger},
		deviceID: deviceID,
	}, nil
}
