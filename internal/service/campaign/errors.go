package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound      = errors.New("campaign not found")
	ErrRunInProgress = errors.New("campaign run already in progress")
	ErrInvalidInput  = errors.New("invalid run request")
)
