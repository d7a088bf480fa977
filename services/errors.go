package services

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrorKind names the ledger rule a rejected operation violated.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindAlreadyCompleted  ErrorKind = "already_completed"
	KindDailyCapReached   ErrorKind = "daily_cap_reached"
	KindAccountInactive   ErrorKind = "account_inactive"
	KindTaskUnavailable   ErrorKind = "task_unavailable"
	KindAlreadyProcessed  ErrorKind = "already_processed"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindNotFound          ErrorKind = "not_found"
	KindUnauthorized      ErrorKind = "unauthorized"
)

// LedgerError is an expected business outcome, never an infrastructure
// failure. errors.Is matches on Kind, so callers can test against the
// sentinels below while users still see the specific message.
type LedgerError struct {
	Kind    ErrorKind
	Message string
}

func (e *LedgerError) Error() string { return e.Message }

func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation        = &LedgerError{Kind: KindValidation, Message: "invalid input"}
	ErrAlreadyCompleted  = &LedgerError{Kind: KindAlreadyCompleted, Message: "task already completed"}
	ErrDailyCapReached   = &LedgerError{Kind: KindDailyCapReached, Message: "daily limit reached"}
	ErrAccountInactive   = &LedgerError{Kind: KindAccountInactive, Message: "account is not active"}
	ErrTaskUnavailable   = &LedgerError{Kind: KindTaskUnavailable, Message: "task is not available"}
	ErrAlreadyProcessed  = &LedgerError{Kind: KindAlreadyProcessed, Message: "already processed"}
	ErrInsufficientFunds = &LedgerError{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrNotFound          = &LedgerError{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized      = &LedgerError{Kind: KindUnauthorized, Message: "admin capability required"}
)

func newError(kind ErrorKind, format string, args ...interface{}) error {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the ledger kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// IsStateConflict reports whether err belongs to the state-conflict family.
// Retrying such an operation cannot change its outcome.
func IsStateConflict(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindAlreadyCompleted, KindDailyCapReached, KindAccountInactive, KindTaskUnavailable, KindAlreadyProcessed:
		return true
	}
	return false
}

// outcomeOf is the metrics label for an operation result.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

var amountPrinter = message.NewPrinter(language.English)

// formatAmount renders 10000 as "10,000 RWF".
func formatAmount(amount int64, currency string) string {
	return amountPrinter.Sprintf("%d %s", amount, currency)
}
