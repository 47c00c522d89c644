// Package repository defines the session store interface and its
// in-memory and SQLite implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/psymetric/internal/domain/model"
)

// Store provides read/write access to sessions, their raw events, and
// the derived metrics and trait profiles.
type Store interface {
	// CreateSession stores a new session. It is a no-op when a session
	// with the same ID already exists.
	CreateSession(ctx context.Context, s model.Session) error

	// GetSession returns the session by ID.
	// Returns ErrSessionNotFound if the session is unknown.
	GetSession(ctx context.Context, id string) (model.Session, error)

	// UpdateSession replaces the stored session.
	// Returns ErrSessionNotFound if the session is unknown.
	UpdateSession(ctx context.Context, s model.Session) error

	// AppendEvent appends an event to its session's timeline. An event
	// whose logical identity (session, type, client event ID) is
	// already stored is ignored. Returns true when the event was
	// newly stored, false on a duplicate.
	AppendEvent(ctx context.Context, e model.Event) (bool, error)

	// EventsBySession returns the session's events ordered by
	// millisecond timestamp ascending, insertion order on ties.
	EventsBySession(ctx context.Context, sessionID string) ([]model.Event, error)

	// UpsertMetric stores a metric, replacing any previous value with
	// the same session and name.
	UpsertMetric(ctx context.Context, m model.Metric) error

	// MetricsBySession returns all metrics derived for a session,
	// ordered by name.
	MetricsBySession(ctx context.Context, sessionID string) ([]model.Metric, error)

	// UpsertProfile stores a trait profile, replacing any previous
	// profile for the same session.
	UpsertProfile(ctx context.Context, p model.Profile) error

	// ProfileBySession returns the profile derived for a session.
	// Returns ErrProfileNotFound when inference has not produced one.
	ProfileBySession(ctx context.Context, sessionID string) (model.Profile, error)

	// LatestProfileByUser returns the most recent profile for a user
	// created at or after since, skipping the excluded session so a
	// session can be compared against its own history. Returns
	// ErrProfileNotFound when none qualifies.
	LatestProfileByUser(ctx context.Context, userID string, since time.Time, excludeSessionID string) (model.Profile, error)

	// SessionsNeedingExtraction lists sessions that have events but no
	// derived metrics yet, for the periodic pipeline sweep.
	SessionsNeedingExtraction(ctx context.Context) ([]string, error)

	// SessionsNeedingInference lists sessions that have metrics but no
	// trait profile yet.
	SessionsNeedingInference(ctx context.Context) ([]string, error)

	// DeleteSession removes a session together with its events,
	// metrics, and profile.
	DeleteSession(ctx context.Context, id string) error

	// CountSessions returns the number of sessions tracked.
	CountSessions(ctx context.Context) int

	// CountEvents returns the number of stored events across sessions.
	CountEvents(ctx context.Context) int

	// Close releases any resources held by the store.
	Close() error
}

// dedupeKey is the logical identity of an event within its session.
// Events without a client-assigned ID fall back to the server ID and
// are therefore never coalesced.
func dedupeKey(e model.Event) string {
	client := e.ClientEventID
	if client == "" {
		client = e.ID
	}
	return string(e.Type) + "\x00" + client
}
