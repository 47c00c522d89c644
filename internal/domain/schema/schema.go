// Package schema validates raw event payloads against per-event-type
// shapes and normalizes them into a closed set of tagged variants.
//
// Validation is a pure function over its input: no clocks, no stores.
// The only data-completion rule is timestamp derivation, which is
// deterministic (UTC calendar time computed from the millisecond
// timestamp).
package schema

import (
	"time"

	"github.com/okian/psymetric/internal/domain/model"
)

// Maximum length for opaque identifiers carried in payloads.
const maxIDLength = 64

// Payload is one validated, normalized event payload variant.
type Payload interface {
	// Kind returns the specific event name, e.g. "pump" or "cash_out".
	Kind() string

	// Millis returns the millisecond-precision event timestamp.
	Millis() int64

	// When returns the resolved calendar timestamp in UTC.
	When() time.Time

	// Fields returns the flat field snapshot persisted on the event.
	Fields() map[string]any
}

// DeriveTimestamp converts a millisecond epoch timestamp into UTC
// calendar time. Used when the human-readable timestamp is absent.
func DeriveTimestamp(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// PumpPayload is a single balloon pump.
type PumpPayload struct {
	BalloonID         string
	PumpNumber        int
	TimestampMS       int64
	Timestamp         time.Time
	BalloonSize       *float64
	CurrentEarnings   *float64
	TotalEarnings     *float64
	TimeSincePrevPump *float64
	IsNewPersonalMax  *bool
	IsRapidPump       *bool
}

func (p PumpPayload) Kind() string  { return "pump" }
func (p PumpPayload) Millis() int64 { return p.TimestampMS }
func (p PumpPayload) When() time.Time { return p.Timestamp }

func (p PumpPayload) Fields() map[string]any {
	f := map[string]any{
		"balloon_id":             p.BalloonID,
		"pump_number":            p.PumpNumber,
		"timestamp_milliseconds": p.TimestampMS,
	}
	putOptFloat(f, "balloon_size", p.BalloonSize)
	putOptFloat(f, "current_earnings", p.CurrentEarnings)
	putOptFloat(f, "total_earnings", p.TotalEarnings)
	putOptFloat(f, "time_since_prev_pump", p.TimeSincePrevPump)
	putOptBool(f, "is_new_personal_max", p.IsNewPersonalMax)
	putOptBool(f, "is_rapid_pump", p.IsRapidPump)
	return f
}

// CashOutPayload records a balloon cashed out before popping.
type CashOutPayload struct {
	BalloonID         string
	EarningsCollected float64
	TimestampMS       int64
	Timestamp         time.Time
}

func (p CashOutPayload) Kind() string  { return "cash_out" }
func (p CashOutPayload) Millis() int64 { return p.TimestampMS }
func (p CashOutPayload) When() time.Time { return p.Timestamp }

func (p CashOutPayload) Fields() map[string]any {
	return map[string]any{
		"balloon_id":             p.BalloonID,
		"earnings_collected":     p.EarningsCollected,
		"timestamp_milliseconds": p.TimestampMS,
	}
}

// PopPayload records a balloon popping, a negative outcome.
type PopPayload struct {
	BalloonID    string
	PumpsAtPop   int
	TimestampMS  int64
	Timestamp    time.Time
	EarningsLost *float64
}

func (p PopPayload) Kind() string  { return "pop" }
func (p PopPayload) Millis() int64 { return p.TimestampMS }
func (p PopPayload) When() time.Time { return p.Timestamp }

func (p PopPayload) Fields() map[string]any {
	f := map[string]any{
		"balloon_id":             p.BalloonID,
		"pumps_at_pop":           p.PumpsAtPop,
		"timestamp_milliseconds": p.TimestampMS,
	}
	putOptFloat(f, "earnings_lost", p.EarningsLost)
	return f
}

// SessionStartPayload opens a session and carries consent and device
// context.
type SessionStartPayload struct {
	UserID      string
	Consent     bool
	DeviceInfo  map[string]string
	TimestampMS int64
	Timestamp   time.Time
}

func (p SessionStartPayload) Kind() string  { return "session_start" }
func (p SessionStartPayload) Millis() int64 { return p.TimestampMS }
func (p SessionStartPayload) When() time.Time { return p.Timestamp }

func (p SessionStartPayload) Fields() map[string]any {
	return map[string]any{
		"user_id":                p.UserID,
		"consent_given":          p.Consent,
		"timestamp_milliseconds": p.TimestampMS,
	}
}

// SessionEndPayload closes a session.
type SessionEndPayload struct {
	TotalDurationMS *float64
	Completed       bool
	TimestampMS     int64
	Timestamp       time.Time
}

func (p SessionEndPayload) Kind() string  { return "session_end" }
func (p SessionEndPayload) Millis() int64 { return p.TimestampMS }
func (p SessionEndPayload) When() time.Time { return p.Timestamp }

func (p SessionEndPayload) Fields() map[string]any {
	f := map[string]any{
		"completed":              p.Completed,
		"timestamp_milliseconds": p.TimestampMS,
	}
	putOptFloat(f, "total_duration", p.TotalDurationMS)
	return f
}

// CardFlipPayload is a memory-cards interaction.
type CardFlipPayload struct {
	CardID         string
	CardPosition   int
	TimestampMS    int64
	Timestamp      time.Time
	ReactionTime   *float64
	RoundNumber    *float64
	MatchesFound   *float64
	MemoryAccuracy *float64
}

func (p CardFlipPayload) Kind() string  { return "card_flip" }
func (p CardFlipPayload) Millis() int64 { return p.TimestampMS }
func (p CardFlipPayload) When() time.Time { return p.Timestamp }

func (p CardFlipPayload) Fields() map[string]any {
	f := map[string]any{
		"card_id":                p.CardID,
		"card_position":          p.CardPosition,
		"timestamp_milliseconds": p.TimestampMS,
	}
	putOptFloat(f, "reaction_time", p.ReactionTime)
	putOptFloat(f, "round_number", p.RoundNumber)
	putOptFloat(f, "matches_found", p.MatchesFound)
	putOptFloat(f, "memory_accuracy", p.MemoryAccuracy)
	return f
}

// ReactionTrialPayload is a single reaction-timer trial.
type ReactionTrialPayload struct {
	TrialNumber  int
	TimestampMS  int64
	Timestamp    time.Time
	StimulusTime *float64
	ResponseTime *float64
	IsCorrect    *bool
	Accuracy     *float64
}

func (p ReactionTrialPayload) Kind() string  { return "trial" }
func (p ReactionTrialPayload) Millis() int64 { return p.TimestampMS }
func (p ReactionTrialPayload) When() time.Time { return p.Timestamp }

func (p ReactionTrialPayload) Fields() map[string]any {
	f := map[string]any{
		"trial_number":           p.TrialNumber,
		"timestamp_milliseconds": p.TimestampMS,
	}
	putOptFloat(f, "stimulus_time", p.StimulusTime)
	putOptFloat(f, "response_time", p.ResponseTime)
	putOptBool(f, "is_correct", p.IsCorrect)
	putOptFloat(f, "accuracy", p.Accuracy)
	return f
}

// GenericPayload covers user_action and system_event shapes that carry
// arbitrary context beyond the required timestamp.
type GenericPayload struct {
	Name        string
	TimestampMS int64
	Timestamp   time.Time
	Extra       map[string]any
}

func (p GenericPayload) Kind() string  { return p.Name }
func (p GenericPayload) Millis() int64 { return p.TimestampMS }
func (p GenericPayload) When() time.Time { return p.Timestamp }

func (p GenericPayload) Fields() map[string]any {
	f := make(map[string]any, len(p.Extra)+1)
	for k, v := range p.Extra {
		f[k] = v
	}
	f["timestamp_milliseconds"] = p.TimestampMS
	return f
}

// Validate checks raw against the declared shape for eventType and
// name, and returns the normalized tagged variant. On failure it
// returns an *Error listing every violated field.
func Validate(eventType model.EventType, name string, raw map[string]any) (Payload, error) {
	switch eventType {
	case model.EventBalloonRisk:
		return validateBalloonRisk(name, raw)
	case model.EventSessionStart:
		return validateSessionStart(raw)
	case model.EventSessionEnd:
		return validateSessionEnd(raw)
	case model.EventMemoryCards:
		return validateCardFlip(raw)
	case model.EventReactionTimer:
		return validateReactionTrial(raw)
	case model.EventUserAction, model.EventSystemEvent:
		return validateGeneric(name, raw)
	default:
		return nil, ErrUnknownEventType
	}
}

func validateBalloonRisk(name string, raw map[string]any) (Payload, error) {
	switch {
	case name == "pump":
		return validatePump(raw)
	case name == "cash_out":
		return validateCashOut(raw)
	case name == "pop":
		return validatePop(raw)
	}
	// Fall back to shape sniffing when the caller omitted the name,
	// matching how clients historically tagged balloon events.
	if _, ok := raw["pump_number"]; ok {
		return validatePump(raw)
	}
	if _, ok := raw["earnings_collected"]; ok {
		return validateCashOut(raw)
	}
	if _, ok := raw["pumps_at_pop"]; ok {
		return validatePop(raw)
	}
	return nil, &Error{EventType: "balloon_risk", Fields: []FieldError{
		{Field: "event_name", Reason: "must be one of pump, cash_out, pop"},
	}}
}

func validatePump(raw map[string]any) (Payload, error) {
	v := &violations{eventType: "pump"}
	p := PumpPayload{
		BalloonID:   requireID(v, raw, "balloon_id"),
		PumpNumber:  requireNonNegInt(v, raw, "pump_number"),
		TimestampMS: requireMillis(v, raw),
	}
	p.BalloonSize = optionalNonNegNumber(v, raw, "balloon_size")
	p.CurrentEarnings = optionalNonNegNumber(v, raw, "current_earnings")
	p.TotalEarnings = optionalNonNegNumber(v, raw, "total_earnings")
	p.TimeSincePrevPump = optionalNonNegNumber(v, raw, "time_since_prev_pump")
	p.IsNewPersonalMax = optionalBool(v, raw, "is_new_personal_max")
	p.IsRapidPump = optionalBool(v, raw, "is_rapid_pump")
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

func validateCashOut(raw map[string]any) (Payload, error) {
	v := &violations{eventType: "cash_out"}
	p := CashOutPayload{
		BalloonID:   requireID(v, raw, "balloon_id"),
		TimestampMS: requireMillis(v, raw),
	}
	if val := requireNonNegNumber(v, raw, "earnings_collected"); val != nil {
		p.EarningsCollected = *val
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

func validatePop(raw map[string]any) (Payload, error) {
	v := &violations{eventType: "pop"}
	p := PopPayload{
		BalloonID:   requireID(v, raw, "balloon_id"),
		PumpsAtPop:  requireNonNegInt(v, raw, "pumps_at_pop"),
		TimestampMS: requireMillis(v, raw),
	}
	p.EarningsLost = optionalNonNegNumber(v, raw, "earnings_lost")
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

func validateSessionStart(raw map[string]any) (Payload, error) {
	v := &violations{eventType: "session_start"}
	p := SessionStartPayload{
		TimestampMS: requireMillis(v, raw),
	}
	if id, ok := raw["user_id"]; ok {
		if s, ok := id.(string); ok && len(s) <= maxIDLength {
			p.UserID = s
		} else {
			v.add("user_id", "must be string with max length 64")
		}
	}
	if consent := optionalBool(v, raw, "consent_given"); consent != nil {
		p.Consent = *consent
	}
	if di, ok := raw["device_info"]; ok {
		info, ok := di.(map[string]any)
		if !ok {
			v.add("device_info", "must be an object")
		} else {
			p.DeviceInfo = make(map[string]string, len(info))
			for k, val := range info {
				if s, ok := val.(string); ok {
					p.DeviceInfo[k] = s
				}
			}
		}
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

func validateSessionEnd(raw map[string]any) (Payload, error) {
	v := &violations{eventType: "session_end"}
	p := SessionEndPayload{
		TimestampMS: requireMillis(v, raw),
	}
	p.TotalDurationMS = optionalNonNegNumber(v, raw, "total_duration")
	if completed := optionalBool(v, raw, "completed"); completed != nil {
		p.Completed = *completed
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

func validateCardFlip(raw map[string]any) (Payload, error) {
	v := &violations{eventType: "card_flip"}
	p := CardFlipPayload{
		CardID:       requireID(v, raw, "card_id"),
		CardPosition: requireNonNegInt(v, raw, "card_position"),
		TimestampMS:  requireMillis(v, raw),
	}
	p.ReactionTime = optionalNonNegNumber(v, raw, "reaction_time")
	p.RoundNumber = optionalNonNegNumber(v, raw, "round_number")
	p.MatchesFound = optionalNonNegNumber(v, raw, "matches_found")
	p.MemoryAccuracy = optionalBoundedNumber(v, raw, "memory_accuracy", 0, 100)
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

func validateReactionTrial(raw map[string]any) (Payload, error) {
	v := &violations{eventType: "trial"}
	p := ReactionTrialPayload{
		TrialNumber: requireNonNegInt(v, raw, "trial_number"),
		TimestampMS: requireMillis(v, raw),
	}
	p.StimulusTime = optionalNonNegNumber(v, raw, "stimulus_time")
	p.ResponseTime = optionalNonNegNumber(v, raw, "response_time")
	p.IsCorrect = optionalBool(v, raw, "is_correct")
	p.Accuracy = optionalBoundedNumber(v, raw, "accuracy", 0, 100)
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

func validateGeneric(name string, raw map[string]any) (Payload, error) {
	v := &violations{eventType: name}
	p := GenericPayload{
		Name:        name,
		TimestampMS: requireMillis(v, raw),
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	p.Extra = make(map[string]any, len(raw))
	for k, val := range raw {
		if k == "timestamp_milliseconds" || k == "timestamp" {
			continue
		}
		p.Extra[k] = val
	}
	p.Timestamp = resolveTimestamp(raw, p.TimestampMS)
	return p, nil
}

// resolveTimestamp prefers an explicit RFC3339 timestamp and otherwise
// derives one from the millisecond timestamp.
func resolveTimestamp(raw map[string]any, ms int64) time.Time {
	if s, ok := raw["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
	}
	return DeriveTimestamp(ms)
}

func requireID(v *violations, raw map[string]any, field string) string {
	val, ok := raw[field]
	if !ok {
		v.add(field, "missing required field")
		return ""
	}
	s, ok := val.(string)
	if !ok || s == "" || len(s) > maxIDLength {
		v.add(field, "must be string with max length 64")
		return ""
	}
	return s
}

func requireNonNegInt(v *violations, raw map[string]any, field string) int {
	val, ok := raw[field]
	if !ok {
		v.add(field, "missing required field")
		return 0
	}
	n, ok := asInt(val)
	if !ok || n < 0 {
		v.add(field, "must be non-negative integer")
		return 0
	}
	return n
}

func requireMillis(v *violations, raw map[string]any) int64 {
	const field = "timestamp_milliseconds"
	val, ok := raw[field]
	if !ok {
		v.add(field, "missing required field")
		return 0
	}
	n, ok := asInt64(val)
	if !ok || n < 0 {
		v.add(field, "must be non-negative integer")
		return 0
	}
	return n
}

func requireNonNegNumber(v *violations, raw map[string]any, field string) *float64 {
	val, ok := raw[field]
	if !ok {
		v.add(field, "missing required field")
		return nil
	}
	f, ok := asFloat(val)
	if !ok || f < 0 {
		v.add(field, "must be non-negative number")
		return nil
	}
	return &f
}

func optionalNonNegNumber(v *violations, raw map[string]any, field string) *float64 {
	val, ok := raw[field]
	if !ok {
		return nil
	}
	f, ok := asFloat(val)
	if !ok || f < 0 {
		v.add(field, "must be non-negative number")
		return nil
	}
	return &f
}

func optionalBoundedNumber(v *violations, raw map[string]any, field string, lo, hi float64) *float64 {
	val, ok := raw[field]
	if !ok {
		return nil
	}
	f, ok := asFloat(val)
	if !ok || f < lo || f > hi {
		v.add(field, "must be number between 0 and 100")
		return nil
	}
	return &f
}

func optionalBool(v *violations, raw map[string]any, field string) *bool {
	val, ok := raw[field]
	if !ok {
		return nil
	}
	b, ok := val.(bool)
	if !ok {
		v.add(field, "must be boolean")
		return nil
	}
	return &b
}

// asInt accepts native ints and whole JSON floats.
func asInt(val any) (int, bool) {
	n, ok := asInt64(val)
	return int(n), ok
}

func asInt64(val any) (int64, bool) {
	switch n := val.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func asFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func putOptFloat(f map[string]any, key string, val *float64) {
	if val != nil {
		f[key] = *val
	}
}

func putOptBool(f map[string]any, key string, val *bool) {
	if val != nil {
		f[key] = *val
	}
}
