package entity

import "errors"

var (
	// Credential errors
	ErrInvalidCredentialID   = errors.New("invalid credential id")
	ErrDuplicateCredentialID = errors.New("duplicate credential id")
	ErrBlankSessionKey       = errors.New("blank session key")
	ErrBlankBaseURL          = errors.New("blank base url")
	ErrInvalidTier           = errors.New("tier must be >= 0")

	// Pool errors
	ErrEmptyPool = errors.New("credential pool is empty")
)
