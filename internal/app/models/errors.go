package models

import "errors"

// Domain specific errors shared by the planning pipeline, storage and sync layers.
var (
	ErrNotFound         = errors.New("requested item not found")
	ErrConflict         = errors.New("item already exists or conflict")
	ErrBadRequest       = errors.New("bad request")
	ErrValidation       = errors.New("validation failed")
	ErrInvalidInput     = errors.New("generation input failed schema validation")
	ErrStorageExhausted = errors.New("every storage tier failed")
	ErrChannelClosed    = errors.New("sync channel closed")
	ErrOffline          = errors.New("network unavailable")
)
