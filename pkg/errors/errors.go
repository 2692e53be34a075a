package errors

import (
	"errors"
)

var (
	ErrInvalidActor            = errors.New("actor is not allowed to perform this action")
	ErrInvalidState            = errors.New("payment box status does not permit this action")
	ErrMissingField            = errors.New("required field is missing")
	ErrConflict                = errors.New("payment box was modified concurrently")
	ErrPaymentBoxNotFound      = errors.New("payment box not found")
	ErrNilPaymentBox           = errors.New("payment box is nil")
	ErrSameParticipant         = errors.New("sender and receiver must be different users")
	ErrInvalidDuration         = errors.New("invalid payment duration")
	ErrUnknownAction           = errors.New("unknown payment box action")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrSettingsNotFound        = errors.New("payment box settings not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidInput            = errors.New("invalid input")
)
