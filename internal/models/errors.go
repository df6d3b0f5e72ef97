package models

import "errors"

// Ошибки хранилища и журнала.
var (
	// ErrDuplicateEvent не является ошибкой для провайдера: событие уже обработано.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrEventInFlight означает, что событие ещё обрабатывается другим
	// получателем и его аренда не истекла. Провайдер должен повторить доставку.
	ErrEventInFlight         = errors.New("event in flight")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrInconsistentDualWrite = errors.New("inconsistent dual write")
	ErrNotFound              = errors.New("not found")
	// ErrSpendNotFound возвращается, когда возврат ссылается на несуществующее списание.
	ErrSpendNotFound = errors.New("spend transaction not found")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Ошибки операций над подпиской.
var (
	ErrTrialAlreadyUsed  = errors.New("trial already used")
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrInvalidPlan означает, что запрошенный план не является платным.
	ErrInvalidPlan    = errors.New("invalid plan")
	ErrNotResumable   = errors.New("subscription is not resumable")
	ErrNotCancellable = errors.New("subscription is not cancellable")
)
