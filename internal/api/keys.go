// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package api exposes the thin HTTP surface over the core: health, metrics,
// budget, trends, sources, feedback, and dead-letter inspection, behind
// API-key authentication.
package api

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Role separates read-only keys from admin keys.
type Role string

const (
	RoleReader Role = "reader"
	RoleAdmin  Role = "admin"
)

// KeyManager indexes API keys by their SHA3-256 hash. Raw keys never live
// in memory past registration; lookups hash the presented key and probe the
// index under a read lock.
type KeyManager struct {
	mu    sync.RWMutex
	index map[string]Role // hex(sha3-256(key)) -> role
}

// NewKeyManager builds the manager from the bootstrap key set.
func NewKeyManager(adminKey string, bootstrapKeys []string) *KeyManager {
	m := &KeyManager{index: make(map[string]Role)}
	if adminKey != "" {
		m.index[hashKey(adminKey)] = RoleAdmin
	}
	for _, key := range bootstrapKeys {
		if key == "" {
			continue
		}
		if _, exists := m.index[hashKey(key)]; exists {
			continue
		}
		m.index[hashKey(key)] = RoleReader
	}
	return m
}

// Authenticate resolves a presented key to its role.
func (m *KeyManager) Authenticate(key string) (Role, bool) {
	if key == "" {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.index[hashKey(key)]
	return role, ok
}

// Register adds a key at runtime (admin key CRUD surface).
func (m *KeyManager) Register(key string, role Role) {
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index[hashKey(key)] = role
}

// Revoke removes a key.
func (m *KeyManager) Revoke(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.index, hashKey(key))
}

// Len reports the number of registered keys.
func (m *KeyManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

func hashKey(key string) string {
	sum := sha3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
