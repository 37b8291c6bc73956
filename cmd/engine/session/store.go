// Package session holds interaction state across invocations for channels
// that span several request/response turns (USSD, voice).
package session

import (
	"context"
	"errors"
	"time"

	"github.com/telflow/telflow/common/models"
)

// Store is the session store contract. Every method is a single
// linearization point with respect to other methods on the same session id.
// Lookups never return inactive or expired records.
type Store interface {
	// Create opens a session with a generated id. It fails with ErrConflict
	// when the (subscriber, channel) pair already has an active session.
	Create(ctx context.Context, channel models.Channel, subscriber string, initialData map[string]any, ttl time.Duration) (*models.SessionRecord, error)

	// CreateWithID opens a session under a caller-supplied id, used when the
	// telecom provider owns the session identifier (USSD, voice).
	CreateWithID(ctx context.Context, sessionID string, channel models.Channel, subscriber string, initialData map[string]any, ttl time.Duration) (*models.SessionRecord, error)

	// Get returns the active session or nil. An expired record transitions
	// to inactive before nil is returned.
	Get(ctx context.Context, sessionID string) (*models.SessionRecord, error)

	// FindActive returns the active session for (subscriber, channel) or nil.
	FindActive(ctx context.Context, subscriber string, channel models.Channel) (*models.SessionRecord, error)

	// UpdateData merges data into the session (incoming keys win), or
	// replaces the whole map when replace is set. Either way it refreshes
	// last_activity_at and preserves expires_at. Fails with ErrNotFound
	// when the session is absent or inactive.
	UpdateData(ctx context.Context, sessionID string, data map[string]any, replace bool) (*models.SessionRecord, error)

	// Touch refreshes last_activity_at only. No effect on inactive sessions.
	Touch(ctx context.Context, sessionID string) error

	// End marks the session inactive and removes the secondary index entry,
	// which is what frees the (subscriber, channel) slot.
	End(ctx context.Context, sessionID string) error

	// Sweep ends every expired active record and returns how many it ended.
	Sweep(ctx context.Context) (int, error)
}

var (
	// ErrConflict: the (subscriber, channel) pair already has an active session.
	ErrConflict = errors.New("session conflict: subscriber already has an active session on this channel")
	// ErrNotFound: the session is absent, expired or inactive.
	ErrNotFound = errors.New("session not found")
)
