package session

import (
	"slices"
	"time"
)

// Status is the coarse session status.
type Status int

const (
	// StatusUnknown is the initial status before Bootstrap has run.
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity is the server-side profile of the signed-in user.
type Identity struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	StorageUsed    int64     `json:"storage_used"`
	CreatedAt      time.Time `json:"created_at"`
	LinkedServices []string  `json:"linked_services"`
}

// State is a snapshot of the session. Identity is set only when authenticated.
type State struct {
	Status   Status    `json:"status"`
	Identity *Identity `json:"identity"`
}

// Authenticated reports whether the session has a verified identity.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// String renders the state for logs; identity details are limited to the ID.
func (s State) String() string {
	if s.Identity == nil {
		return s.Status.String()
	}
	return s.Status.String() + "(" + s.Identity.ID + ")"
}

// transitions lists the legal status changes. Unknown is never re-entered.
var transitions = map[Status][]Status{
	StatusUnknown:       {StatusAuthenticated, StatusAnonymous},
	StatusAuthenticated: {StatusAnonymous},
	StatusAnonymous:     {StatusAuthenticated},
}

func canTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

