package domain

import "errors"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrIdentityFormat = errors.New("malformed identity identifier")
	ErrIdentityExists = errors.New("identity already exists")
	ErrInvalidEvent   = errors.New("invalid audit event")
	ErrIntegrity      = errors.New("event hash mismatch")
	ErrChainBroken    = errors.New("chain linkage broken")
	ErrInvalidReport  = errors.New("invalid compliance report request")
)
