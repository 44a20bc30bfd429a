// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openclaw/serve/internal/util"
)

// =============================================================================
// PROFILE
// =============================================================================

// Status is the lifecycle state of the stored credential.
type Status string

const (
	// StatusPending means a device flow has started but not completed.
	StatusPending Status = "pending"

	// StatusActive means the profile holds a usable OAuth token.
	StatusActive Status = "active"

	// StatusExpired means the upstream rejected the token with 401.
	StatusExpired Status = "expired"
)

// Profile is the single local authentication profile.
//
// DeviceCode, UserCode, and VerificationURI are only meaningful while
// Status is pending; they are cleared when the flow completes.
type Profile struct {
	Token           string `json:"token"`
	Status          Status `json:"status"`
	DeviceCode      string `json:"device_code,omitempty"`
	UserCode        string `json:"user_code,omitempty"`
	VerificationURI string `json:"verification_uri,omitempty"`
	UpdatedAt       int64  `json:"updated_at"` // Unix milliseconds
}

// IsActive reports whether this profile holds a usable token.
func (p *Profile) IsActive() bool {
	return p != nil && p.Status == StatusActive && p.Token != ""
}

// =============================================================================
// STORE
// =============================================================================

// Store persists the auth profile to disk.
//
// All writes go through util.AtomicWriteFile, so a crash mid-write
// leaves either the old record or the new full record, never a partial
// one. A single process is the only expected writer; the mutex guards
// concurrent turns within it.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store rooted at dir (the profile lives in
// dir/auth/profile.json).
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "auth", "profile.json")}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stored profile. Returns (nil, nil) when no profile
// has been saved yet.
func (s *Store) Load() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read auth profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse auth profile: %w", err)
	}
	return &p, nil
}

// Save writes the profile, refreshing UpdatedAt.
func (s *Store) Save(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(p)
}

func (s *Store) saveLocked(p *Profile) error {
	p.UpdatedAt = time.Now().UnixMilli()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode auth profile: %w", err)
	}

	// 0600: the token is a credential.
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write auth profile: %w", err)
	}
	return nil
}

// Update applies fn to the current profile (a zero pending profile if
// none exists) under a read-merge-write, and persists the result.
func (s *Store) Update(fn func(*Profile)) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &Profile{Status: StatusPending}
	}

	fn(p)

	if err := s.saveLocked(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Clear removes the stored profile. Missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove auth profile: %w", err)
	}
	return nil
}
