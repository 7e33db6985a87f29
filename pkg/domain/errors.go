package domain

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDecode            = errors.New("decode failed")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("operation timed out")
	ErrUnavailable       = errors.New("service unavailable")
	ErrGenerationFailed  = errors.New("text generation failed")
	ErrRetrievalFailed   = errors.New("retrieval failed")
	ErrCancelled         = errors.New("operation cancelled")
	ErrInternal          = errors.New("internal error")
)
