package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation возвращается при некорректном действии
	ErrValidation = errors.New("action validation failed")

	// ErrRateLimitExceeded возвращается при превышении лимита действий в окне
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrTransient временная сетевая ошибка, допускающая повтор
	ErrTransient = errors.New("transient network error")

	// ErrStoreUnavailable возвращается когда общее хранилище недоступно
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrControlPlane ошибка API узла, не подлежащая повтору
	ErrControlPlane = errors.New("control plane error")
)

// ValidationError описывает нарушенное ограничение
type ValidationError struct {
	Constraint string
	Field      string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s) on %s: %s", e.Constraint, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Constraint, e.Message)
}

// Is позволяет сравнивать через errors.Is(err, ErrValidation)
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validation constraints
const (
	ConstraintRequired    = "required"
	ConstraintUnknownType = "unknown_action_type"
	ConstraintType        = "parameter_type"
	ConstraintRange       = "range"
	ConstraintSelfLoop    = "self_loop"
)

// RateLimitError превышение лимита для пары (ресурс, тип действия)
type RateLimitError struct {
	ResourceID string
	ActionType ActionType
	Limit      int64
	Count      int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s/%s: %d > %d", e.ResourceID, e.ActionType, e.Count, e.Limit)
}

// Is позволяет сравнивать через errors.Is(err, ErrRateLimitExceeded)
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// TransientError сетевая ошибка, которую имеет смысл повторить
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is позволяет сравнивать через errors.Is(err, ErrTransient)
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}
