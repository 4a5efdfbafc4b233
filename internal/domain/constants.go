package domain

import "time"

// Action types
const (
	ActionFeeUpdate    ActionType = "fee_update"
	ActionRebalance    ActionType = "rebalance"
	ActionChannelOpen  ActionType = "channel_open"
	ActionChannelClose ActionType = "channel_close"
)

// AllActionTypes is the closed set of action types, in a stable order.
var AllActionTypes = []ActionType{
	ActionFeeUpdate,
	ActionRebalance,
	ActionChannelOpen,
	ActionChannelClose,
}

// Audit statuses
const (
	AuditValidated AuditStatus = "validated"
	AuditExecuted  AuditStatus = "executed"
	AuditFailed    AuditStatus = "failed"
	AuditRejected  AuditStatus = "rejected"
)

// Health profiles
const (
	ProfileNormal     Profile = "normal"
	ProfileSaturated  Profile = "saturated"
	ProfileCritical   Profile = "critical"
	ProfileStar       Profile = "star"
	ProfileUnbalanced Profile = "unbalanced"
)

// Condition tags
const (
	ConditionCritical           ConditionTag = "critical"
	ConditionLowSuccessRate     ConditionTag = "low_success_rate"
	ConditionLiquidityImbalance ConditionTag = "liquidity_imbalance"
	ConditionHighVolumeLowFees  ConditionTag = "high_volume_low_fees"
)

// Circuit breaker states
const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Parameter keys
const (
	ParamChannelID     = "channel_id"
	ParamNewBaseFee    = "new_base_fee"
	ParamNewFeeRate    = "new_fee_rate"
	ParamFees          = "fees"
	ParamDirection     = "direction"
	ParamFactor        = "factor"
	ParamSourceChannel = "source_channel"
	ParamDestChannel   = "dest_channel"
	ParamAmount        = "amount"
	ParamEmergency     = "emergency"
	ParamReason        = "reason"
	ParamPeer          = "peer"
)

// Fee directions
const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"
)

// Store keys and retention
const (
	AuditKeyPrefix     = "audit:"
	RateLimitKeyPrefix = "ratelimit:"
	BreakerKeyPrefix   = "breaker:"
	AuditRetention     = 30 * 24 * time.Hour
)

// BalancedRatio соответствует идеально сбалансированному каналу
const BalancedRatio = 0.5
