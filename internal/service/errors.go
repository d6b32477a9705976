package service

import "errors"

// Operation-refusing errors shared by the realtime and REST surfaces. Store
// failures are wrapped and surfaced generically, never retried here.
var (
	ErrUnauthorized = errors.New("unauthorized access to conversation")
	ErrValidation   = errors.New("message must carry text or an attachment")
	ErrNotFound     = errors.New("conversation not found")
	ErrBadKind      = errors.New("unknown conversation kind")
)
