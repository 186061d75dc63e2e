// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when authentication fails. Providers wrap it
// with additional context.
//
// Example:
//
//	if !known {
//	    return nil, fmt.Errorf("unknown api key: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo identifies the authenticated caller.
//
// Callers are integrations (a messaging gateway, an internal console), not
// end users; the end user is named in each request body.
type AuthInfo struct {
	// ClientID names the integration. Never empty.
	ClientID string

	// Roles contains the caller's role memberships, e.g. "admin" for
	// callers allowed to inspect and delete sessions.
	Roles []string
}

// HasRole checks if the caller has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns caller identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks the bearer token.
	//
	// Returns:
	//   - *AuthInfo: Caller identity if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token, including the empty one, and returns
// a local admin caller. Used when no API keys are configured.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns the local admin caller.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		ClientID: "local",
		Roles:    []string{"admin"},
	}, nil
}

// APIKey is one accepted key and the identity it grants.
type APIKey struct {
	Key      string
	ClientID string
	Roles    []string
}

// APIKeyProvider validates static API keys.
//
// # Description
//
// Keys are stored as SHA-256 digests and compared in constant time, so the
// provider neither keeps plaintext keys nor leaks key prefixes through
// timing.
//
// # Thread Safety
//
// Immutable after construction.
type APIKeyProvider struct {
	keys []hashedKey
}

type hashedKey struct {
	digest [sha256.Size]byte
	info   AuthInfo
}

// NewAPIKeyProvider builds a provider from keys. Empty keys are rejected.
func NewAPIKeyProvider(keys ...APIKey) (*APIKeyProvider, error) {
	p := &APIKeyProvider{keys: make([]hashedKey, 0, len(keys))}
	for i, k := range keys {
		if k.Key == "" {
			return nil, fmt.Errorf("api key %d is empty", i)
		}
		client := k.ClientID
		if client == "" {
			client = fmt.Sprintf("client-%d", i)
		}
		p.keys = append(p.keys, hashedKey{
			digest: sha256.Sum256([]byte(k.Key)),
			info:   AuthInfo{ClientID: client, Roles: append([]string(nil), k.Roles...)},
		})
	}
	return p, nil
}

// Validate returns the identity bound to token.
func (p *APIKeyProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	digest := sha256.Sum256([]byte(token))
	var match *hashedKey
	for i := range p.keys {
		// Every key is compared so the scan takes the same time for hits
		// and misses.
		if subtle.ConstantTimeCompare(digest[:], p.keys[i].digest[:]) == 1 {
			match = &p.keys[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("unknown api key: %w", ErrUnauthorized)
	}
	info := match.info
	info.Roles = append([]string(nil), info.Roles...)
	return &info, nil
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*APIKeyProvider)(nil)
)
