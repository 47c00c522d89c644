package model

// Metric names shared between the extractor and the trait models. The
// convention is game_category_name, flattened into one namespace so a
// session's metrics form a simple map.
const (
	// Balloon risk: risk tolerance.
	MetricAvgPumps          = "balloon_risk_risk_tolerance_avg_pumps_per_balloon"
	MetricMaxPumps          = "balloon_risk_risk_tolerance_max_pumps_per_balloon"
	MetricRiskEscalation    = "balloon_risk_risk_tolerance_risk_escalation_rate"
	MetricBalloonsPopped    = "balloon_risk_risk_tolerance_total_balloons_popped"
	MetricBalloonsCashed    = "balloon_risk_risk_tolerance_total_balloons_cashed"
	MetricPopRate           = "balloon_risk_risk_tolerance_pop_rate"

	// Balloon risk: consistency.
	MetricPumpIntervalStd   = "balloon_risk_consistency_pump_interval_std"
	MetricPumpIntervalCV    = "balloon_risk_consistency_pump_interval_cv"
	MetricConsistencyScore  = "balloon_risk_consistency_behavioral_consistency_score"

	// Balloon risk: learning patterns.
	MetricAdaptationRate    = "balloon_risk_learning_patterns_adaptation_rate"
	MetricLearningCurve     = "balloon_risk_learning_patterns_learning_curve_slope"
	MetricFeedbackResponse  = "balloon_risk_learning_patterns_feedback_response"

	// Balloon risk: decision speed.
	MetricAvgDecisionTime   = "balloon_risk_decision_speed_avg_decision_time"
	MetricDecisionTimeStd   = "balloon_risk_decision_speed_decision_time_std"
	MetricRapidDecisionRate = "balloon_risk_decision_speed_rapid_decision_rate"

	// Balloon risk: emotional regulation.
	MetricPostLossBehavior  = "balloon_risk_emotional_regulation_post_loss_behavior"
	MetricStressResponse    = "balloon_risk_emotional_regulation_stress_response"
	MetricRecoveryTime      = "balloon_risk_emotional_regulation_recovery_time"

	// Memory cards.
	MetricMemoryAccuracy       = "memory_cards_memory_accuracy"
	MetricMemoryAvgReaction    = "memory_cards_avg_reaction_time"
	MetricMemoryMatchesFound   = "memory_cards_matches_found"

	// Reaction timer.
	MetricReactionAvgTime      = "reaction_timer_avg_reaction_time"
	MetricReactionTimeStd      = "reaction_timer_reaction_time_std"
	MetricReactionAccuracy     = "reaction_timer_accuracy_rate"
	MetricAttentionConsistency = "reaction_timer_attention_consistency"

	// Session level.
	MetricTotalEvents      = "session_total_events"
	MetricSessionDuration  = "session_session_duration_ms"
	MetricEventsPerMinute  = "session_events_per_minute"
	MetricCompletionRate   = "session_completion_rate"
	MetricDataQualityScore = "session_data_quality_score"
)
