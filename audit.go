package authkit

import "time"

// ============================================================================
// AUDIT EVENTS
// ============================================================================

// Event kinds recorded by the engine. Persistence beyond "an event was
// recorded" is the audit store's concern.
const (
	EventCredentialCreated = "credential.created"
	EventCredentialRevoked = "credential.revoked"
	EventCredentialRotated = "credential.rotated"
	EventRoleAssigned      = "role.assigned"
	EventRoleRevoked       = "role.revoked"
)

// Event is a lifecycle or administrative audit record. Events are queued to
// a background worker and may be dropped under pressure; they never block or
// fail the operation that produced them.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Kind         string         `json:"kind"`
	PrincipalID  string         `json:"principal_id"`
	CredentialID string         `json:"credential_id,omitempty"`
	TraceID      string         `json:"trace_id,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
}

// EventFilter narrows ListEvents results; zero fields match everything.
type EventFilter struct {
	PrincipalID  string
	CredentialID string
	Kind         string
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
}
