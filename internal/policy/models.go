package policy

import (
	"time"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

// ValidationResult результат проверки действия политикой
type ValidationResult struct {
	Approved   bool
	Violations []Violation
	CheckedAt  time.Time
}

// Violation описывает нарушение политики
type Violation struct {
	Constraint     string // required, unknown_action_type, parameter_type, range, self_loop
	Field          string
	LimitValue     float64
	AttemptedValue float64
	Message        string
}

// Err переводит нарушение в типизированную ошибку
func (v Violation) Err() error {
	return &domain.ValidationError{
		Constraint: v.Constraint,
		Field:      v.Field,
		Message:    v.Message,
	}
}

// requiredParams обязательные параметры по типу действия
var requiredParams = map[domain.ActionType][]string{
	domain.ActionFeeUpdate:    {domain.ParamChannelID, domain.ParamNewBaseFee, domain.ParamNewFeeRate},
	domain.ActionRebalance:    {domain.ParamSourceChannel, domain.ParamDestChannel, domain.ParamAmount},
	domain.ActionChannelOpen:  {domain.ParamPeer, domain.ParamAmount},
	domain.ActionChannelClose: {domain.ParamChannelID},
}

// stringParams параметры, которые должны быть непустыми строками
var stringParams = map[string]bool{
	domain.ParamChannelID:     true,
	domain.ParamSourceChannel: true,
	domain.ParamDestChannel:   true,
	domain.ParamPeer:          true,
}
