package sending

import "errors"

// Sentinel errors for the provider pool.
var (
	ErrNoProviders      = errors.New("no provider accounts configured")
	ErrQuotaExhausted   = errors.New("all provider accounts have exhausted their daily quota")
	ErrUnknownAccount   = errors.New("unknown provider account")
	ErrDuplicateAccount = errors.New("duplicate provider account key")
)
