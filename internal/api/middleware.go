// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

type roleContextKey struct{}

// apiKeyHeader carries the presented key.
const apiKeyHeader = "X-API-Key"

// AuthMiddleware authenticates requests against the key manager. When auth
// is not required (development), unauthenticated requests pass with reader
// role.
func AuthMiddleware(keys *KeyManager, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
					key = strings.TrimPrefix(header, "Bearer ")
				}
			}

			role, ok := keys.Authenticate(key)
			if !ok {
				if required {
					writeError(w, http.StatusUnauthorized, "invalid or missing API key")
					return
				}
				role = RoleReader
			}

			ctx := context.WithValue(r.Context(), roleContextKey{}, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin guards mutation endpoints.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if roleFrom(r) != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func roleFrom(r *http.Request) Role {
	if role, ok := r.Context().Value(roleContextKey{}).(Role); ok {
		return role
	}
	return ""
}

// RateLimitKey identifies the caller for per-key rate-limit windows: the
// presented API key when available, else the remote address.
func RateLimitKey(r *http.Request) (string, error) {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key, nil
	}
	return r.RemoteAddr, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
