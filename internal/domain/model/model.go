// Package model contains domain models passed between layers.
package model

import "time"

// SessionStatus tracks the lifecycle of a behavioral session.
type SessionStatus string

// Session lifecycle states.
const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// GameType identifies which game produced a session or metric.
type GameType string

// Known game types.
const (
	GameBalloonRisk   GameType = "balloon_risk"
	GameMemoryCards   GameType = "memory_cards"
	GameReactionTimer GameType = "reaction_timer"
	GameMixed         GameType = "mixed"
)

// EventType categorizes behavioral events.
type EventType string

// Event types. Game-specific subtypes carry the game name.
const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventUserAction    EventType = "user_action"
	EventSystemEvent   EventType = "system_event"
	EventBalloonRisk   EventType = "balloon_risk"
	EventMemoryCards   EventType = "memory_cards"
	EventReactionTimer EventType = "reaction_timer"
)

// ValidationStatus marks the schema-check outcome of an event.
type ValidationStatus string

// Event validation states.
const (
	ValidationPending ValidationStatus = "pending"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// Session represents one complete behavioral assessment session.
// A session owns its events; deleting the session invalidates them.
type Session struct {
	ID         string
	UserID     string
	GameType   GameType
	Status     SessionStatus
	StartTime  time.Time
	EndTime    *time.Time // nil until the session completes
	DurationMS int64
	Consent    bool
	DeviceInfo map[string]string
}

// Completed reports whether the session finished normally.
func (s Session) Completed() bool {
	return s.Status == SessionCompleted
}

// Event is a single validated behavioral event within a session.
//
// Logical identity for idempotent ingestion is (SessionID, Type,
// ClientEventID); the store must not create a second record for the
// same logical event.
type Event struct {
	ID            string
	SessionID     string
	Type          EventType
	Name          string // specific action, e.g. "pump", "cash_out"
	ClientEventID string // source-provided id used for deduplication
	Timestamp     time.Time
	TimestampMS   int64 // millisecond precision timestamp
	Payload       map[string]any
	Status        ValidationStatus
}

// Interval is a confidence interval around a point estimate.
type Interval struct {
	Lower float64
	Upper float64
}

// Metric is a named scalar derived from a session's event stream.
// Names follow the {game}_{category}_{statistic} convention. A metric
// is unique per (session, name, game type); re-extraction overwrites.
type Metric struct {
	SessionID    string
	Name         string
	GameType     GameType
	Value        float64
	SampleSize   int
	Method       string
	CI           *Interval
	DataVersion  string
	CalculatedAt time.Time
}

// TraitScore is one inferred psychometric trait.
//
// Normalized and Confidence are always clamped to [0,1]. A trait
// absent from a profile means its confidence fell below the model's
// minimum threshold, not that the value is zero.
type TraitScore struct {
	Trait          string
	Dimension      string
	Raw            float64
	Normalized     float64
	Confidence     float64
	Contributing   []string
	Interpretation string
	ModelVersion   string
	Interval       Interval
}

// Profile is the assembled trait profile for a session. Re-running
// inference replaces the profile (upsert), never appends.
type Profile struct {
	ID                string
	SessionID         string
	UserID            string
	Traits            map[string]TraitScore
	OverallConfidence float64
	Validation        *ValidationResult
	CreatedAt         time.Time
}

// ValidationResult scores a profile's trustworthiness along four
// independent axes. Created fresh on every validation run.
type ValidationResult struct {
	IsValid          bool
	ConfidenceScore  float64
	DataQualityScore float64
	ReliabilityScore float64
	ValidityScore    float64
	SubScores        map[string]float64
	Warnings         []string
	Recommendations  []string
}
