package orders

import (
	"errors"
	"fmt"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyCanceled   = errors.New("order already canceled")
	ErrValidation        = errors.New("validation failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrConflict          = errors.New("order was modified concurrently")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translate maps store errors onto the order error taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyCanceled),
		errors.Is(err, ErrValidation), errors.Is(err, ErrStoreUnavailable):
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Reason is a short machine-readable code for an error, used in bulk reports.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyCanceled):
		return "already_canceled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "store_unavailable"
}

// UserMessage is the short text shown to dashboard users for err. The
// technical detail stays in the logs.
func UserMessage(err error, action string) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Order not found"
	case errors.Is(err, ErrInvalidTransition):
		return "Order is already completed or canceled"
	case errors.Is(err, ErrAlreadyCanceled):
		return "Order is already canceled"
	case errors.Is(err, ErrConflict):
		return "Order was changed by someone else, please reload"
	case errors.Is(err, ErrValidation):
		return err.Error()
	}
	return "Failed to " + action
}
