package models

import "github.com/pkg/errors"

// Типизированные доменные ошибки. Слои выше различают их через errors.Is,
// чтобы отдать пользователю точный ответ (см. api).
var (
	ErrDuplicateRequest  = errors.New("active request with this external id already exists")
	ErrRequestNotFound   = errors.New("request not found")
	ErrAlreadyNotified   = errors.New("request already notified")
	ErrNotCompleted      = errors.New("request is not completed")
	ErrConflict          = errors.New("request row version conflict")
	ErrNotAnomalous      = errors.New("request is not anomalous")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrInvalidInput      = errors.New("invalid input")
)
