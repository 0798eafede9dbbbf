package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Result — нормализованный ответ внешнего сервиса по одной заявке.
// StatusRaw сохраняем всегда: словарь статусов у сервиса свой.
type Result struct {
	Status    string
	StatusRaw string
	StatusAt  *time.Time
}

// CreateResult возвращается при создании заявки на удалённой стороне.
type CreateResult struct {
	ExternalID uint64
	Status     string
	Title      string
	Year       *string
}

type Client interface {
	// FetchStatus возвращает ErrNotFound, если заявки на удалённой стороне
	// больше нет (дальше это обрабатывается как orphan, а не как сбой).
	FetchStatus(ctx context.Context, externalID uint64) (Result, error)
	CreateRequest(ctx context.Context, mediaID uint64, mediaKind string) (CreateResult, error)
	CancelRequest(ctx context.Context, externalID uint64) error
	// Probe — лёгкая liveness-проверка, без побочных эффектов.
	Probe(ctx context.Context) error
}

var ErrNotFound = errors.New("remote request not found")

// TransientError — сеть/таймаут/5xx. Ретраится централизованным helper-ом,
// наружу уходит только после исчерпания попыток.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fulfillment error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
