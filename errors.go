package adreel

import "errors"

var (
	// Admission errors.
	ErrUnauthorized        = errors.New("adreel: unauthorized")
	ErrInsufficientCredits = errors.New("adreel: insufficient credits")

	// Billing errors.
	ErrInvalidPlan        = errors.New("adreel: invalid plan")
	ErrSignatureMismatch  = errors.New("adreel: webhook signature mismatch")
	ErrPaymentNotCaptured = errors.New("adreel: payment not captured")
	ErrDuplicatePayment   = errors.New("adreel: payment already applied")

	// Job errors.
	ErrJobNotFound      = errors.New("adreel: job not found")
	ErrJobAlreadyExists = errors.New("adreel: job already exists")
	ErrNoHandler        = errors.New("adreel: no handler registered for job")

	// State errors. Terminal job states are sticky; an update that would
	// move a job out of finished or failed reports ErrInvalidState.
	ErrInvalidState = errors.New("adreel: invalid state transition")
)
