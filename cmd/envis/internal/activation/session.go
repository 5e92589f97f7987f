// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package activation

import (
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
)

// CredentialSession caches a successfully-used elevation credential for
// the lifetime of the client session.
//
// The secret is held in a memguard enclave (encrypted at rest in memory,
// decrypted only inside a locked buffer while being read) rather than a
// plain string, and is never persisted to disk.
//
// # Lifetime
//
// The source behavior left the cache's lifetime undefined, so it is a
// configuration point here: a zero TTL keeps the credential until the
// process exits or Clear is called; a positive TTL expires it. Callers
// that want clear-on-environment-switch call Clear from the switch path.
//
// # Thread Safety
//
// Safe for concurrent use.
type CredentialSession struct {
	mu       sync.Mutex
	enclave  *memguard.Enclave
	storedAt time.Time
	ttl      time.Duration
}

// NewCredentialSession creates a session cache with the given TTL.
// A zero or negative TTL disables expiry.
func NewCredentialSession(ttl time.Duration) *CredentialSession {
	return &CredentialSession{ttl: ttl}
}

// Put stores a credential that was just accepted by the backend,
// replacing any previous one.
func (s *CredentialSession) Put(cred gateway.Credential) {
	if cred.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = memguard.NewEnclave([]byte(cred))
	s.storedAt = time.Now()
}

// Get returns the cached credential if one is present and unexpired.
func (s *CredentialSession) Get() (gateway.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enclave == nil {
		return "", false
	}
	if s.ttl > 0 && time.Since(s.storedAt) > s.ttl {
		s.enclave = nil
		return "", false
	}
	buf, err := s.enclave.Open()
	if err != nil {
		// Enclave corruption is unrecoverable; drop the cache and force
		// a re-prompt rather than failing the operation.
		s.enclave = nil
		return "", false
	}
	defer buf.Destroy()
	// Convert via Bytes so the credential is copied out of the locked
	// buffer before the deferred Destroy unmaps it; String is a no-copy
	// view in memguard v0.22.x.
	return gateway.Credential(buf.Bytes()), true
}

// Clear drops the cached credential.
func (s *CredentialSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}

// Cached reports whether an unexpired credential is present without
// decrypting it.
func (s *CredentialSession) Cached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enclave == nil {
		return false
	}
	if s.ttl > 0 && time.Since(s.storedAt) > s.ttl {
		return false
	}
	return true
}
