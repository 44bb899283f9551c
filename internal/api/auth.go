// Package api implements HTTP handlers and helpers for the sitescore service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
	Subject string
	Role    string // admin, analyst, viewer
}

// getPrincipal extracts subject and role from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Subject: pr.Subject, Role: pr.Role}
        }
    }
    subject := r.Header.Get("X-Subject")
    role := r.Header.Get("X-Role")
    if subject == "" {
        subject = "dev"
    }
    if role == "" {
        role = "admin"
    }
    return Principal{Subject: subject, Role: role}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanAnalyze reports whether the principal may run predictions and analyses.
func (p Principal) CanAnalyze() bool { return p.Role == "admin" || p.Role == "analyst" }
